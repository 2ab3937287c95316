package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
)

// FakeClient mimics the disburse flow by hashing the payload. Used in tests
// and in deployments that settle off-process.
type FakeClient struct {
	mu        sync.Mutex
	disbursed []DisburseRequest
	failNext  error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// FailNext makes the next Disburse call return err.
func (f *FakeClient) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *FakeClient) Disburse(_ context.Context, req DisburseRequest) (DisburseResponse, error) {
	if req.To == "" {
		return DisburseResponse{}, fmt.Errorf("missing recipient")
	}
	if req.Amount <= 0 {
		return DisburseResponse{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return DisburseResponse{}, err
	}
	f.disbursed = append(f.disbursed, req)
	hash := sha256.Sum256([]byte(req.To + string(req.Asset) + strconv.FormatInt(req.Amount, 10) + req.ClaimRef))
	return DisburseResponse{TransferRef: "0x" + hex.EncodeToString(hash[:])}, nil
}

func (f *FakeClient) Disbursed() []DisburseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DisburseRequest, len(f.disbursed))
	copy(out, f.disbursed)
	return out
}
