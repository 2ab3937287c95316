package settlement

import (
	"context"

	"coverpool/internal/domain/claims"
)

// Client abstracts the external fund movement behind a payout. The pool
// decides; the client transfers. Both happen under the pool lock.
type Client interface {
	Disburse(ctx context.Context, req DisburseRequest) (DisburseResponse, error)
}

type DisburseRequest struct {
	To       string
	Asset    claims.Asset
	Amount   int64
	ClaimRef string
}

type DisburseResponse struct {
	TransferRef string
	TxHash      string
}
