// Package quorum gates high-value fund releases behind a threshold of
// distinct approver signatures. The approval that first reaches the
// threshold flips the transaction to executed, irreversibly, and triggers
// the release within the same call; there is no separate execute step that
// could leave a transaction ready but unexecuted.
package quorum

import (
	"context"
	"sync"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"

	"github.com/google/uuid"
)

// Releaser performs the fund release once a transaction executes. The
// claim ledger implements it. It is invoked after the quorum lock is
// dropped so the release path may re-enter ledger and pool safely.
type Releaser interface {
	ReleaseApproved(ctx context.Context, tx claims.ApprovalTransaction) error
}

type Quorum struct {
	mu        sync.Mutex
	signers   map[string]bool
	threshold int
	txs       map[string]*claims.ApprovalTransaction
	releaser  Releaser
	clock     func() time.Time
	log       *audit.Log
}

func New(signers []string, threshold int, log *audit.Log) (*Quorum, error) {
	if threshold <= 0 || threshold > len(signers) {
		return nil, claims.ErrInvalidArgument
	}
	set := make(map[string]bool, len(signers))
	for _, s := range signers {
		if s == "" {
			return nil, claims.ErrInvalidArgument
		}
		set[s] = true
	}
	if len(set) < threshold {
		return nil, claims.ErrInvalidArgument
	}
	return &Quorum{
		signers:   set,
		threshold: threshold,
		txs:       make(map[string]*claims.ApprovalTransaction),
		clock:     time.Now,
		log:       log,
	}, nil
}

func (q *Quorum) SetReleaser(r Releaser) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaser = r
}

func (q *Quorum) CreateRequest(ctx context.Context, recipient string, asset claims.Asset, amount int64, claimID string) (string, error) {
	if recipient == "" || asset == "" || amount <= 0 || claimID == "" {
		return "", claims.ErrInvalidArgument
	}

	q.mu.Lock()
	tx := &claims.ApprovalTransaction{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Asset:     asset,
		Amount:    amount,
		ClaimID:   claimID,
		CreatedAt: q.clock().UTC(),
	}
	q.txs[tx.ID] = tx
	q.mu.Unlock()

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventApprovalCreated,
		ActorType:  "system",
		ActorID:    "ledger",
		EntityType: "approval",
		EntityID:   tx.ID,
		Payload: map[string]any{
			"claim_id":  claimID,
			"recipient": recipient,
			"asset":     string(asset),
			"amount":    amount,
		},
	})
	return tx.ID, nil
}

// Approve records one signature. Duplicate approvals fail with
// AlreadyApproved rather than no-op, preserving at-most-once accounting.
// When the count first reaches the threshold the transaction executes and
// the release runs; a release failure (e.g. insufficient liquidity) leaves
// the transaction executed and the claim retryable via the ledger.
func (q *Quorum) Approve(ctx context.Context, txID, approverID string) error {
	q.mu.Lock()
	if !q.signers[approverID] {
		q.mu.Unlock()
		return claims.ErrUnauthorized
	}
	tx, ok := q.txs[txID]
	if !ok {
		q.mu.Unlock()
		return claims.ErrNotFound
	}
	if tx.Executed {
		q.mu.Unlock()
		return claims.ErrClaimFinalized
	}
	if tx.Approved(approverID) {
		q.mu.Unlock()
		return claims.ErrAlreadyApproved
	}
	tx.Approvals = append(tx.Approvals, approverID)
	triggered := len(tx.Approvals) >= q.threshold
	if triggered {
		tx.Executed = true
	}
	snapshot := *tx
	snapshot.Approvals = append([]string(nil), tx.Approvals...)
	releaser := q.releaser
	q.mu.Unlock()

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventApprovalSigned,
		ActorType:  "signer",
		ActorID:    approverID,
		EntityType: "approval",
		EntityID:   txID,
		Payload:    map[string]any{"claim_id": snapshot.ClaimID, "approvals": len(snapshot.Approvals)},
	})

	if !triggered {
		return nil
	}

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventApprovalExecuted,
		ActorType:  "signer",
		ActorID:    approverID,
		EntityType: "approval",
		EntityID:   txID,
		Payload:    map[string]any{"claim_id": snapshot.ClaimID},
	})
	if releaser == nil {
		return claims.ErrInvalidArgument
	}
	return releaser.ReleaseApproved(ctx, snapshot)
}

func (q *Quorum) Get(txID string) (claims.ApprovalTransaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tx, ok := q.txs[txID]
	if !ok {
		return claims.ApprovalTransaction{}, claims.ErrNotFound
	}
	out := *tx
	out.Approvals = append([]string(nil), tx.Approvals...)
	return out, nil
}

// AddSigner admits a new approver. Restricted to current signers.
func (q *Quorum) AddSigner(ctx context.Context, caller, signer string) error {
	q.mu.Lock()
	if !q.signers[caller] {
		q.mu.Unlock()
		return claims.ErrUnauthorized
	}
	if signer == "" || q.signers[signer] {
		q.mu.Unlock()
		return claims.ErrInvalidArgument
	}
	q.signers[signer] = true
	q.mu.Unlock()

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventSignerAdded,
		ActorType:  "signer",
		ActorID:    caller,
		EntityType: "quorum",
		EntityID:   signer,
	})
	return nil
}

// RemoveSigner drops an approver, refusing to make the threshold
// unreachable.
func (q *Quorum) RemoveSigner(ctx context.Context, caller, signer string) error {
	q.mu.Lock()
	if !q.signers[caller] {
		q.mu.Unlock()
		return claims.ErrUnauthorized
	}
	if !q.signers[signer] {
		q.mu.Unlock()
		return claims.ErrNotFound
	}
	if len(q.signers)-1 < q.threshold {
		q.mu.Unlock()
		return claims.ErrThresholdUnreachable
	}
	delete(q.signers, signer)
	q.mu.Unlock()

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventSignerRemoved,
		ActorType:  "signer",
		ActorID:    caller,
		EntityType: "quorum",
		EntityID:   signer,
	})
	return nil
}

// ChangeThreshold adjusts the required approval count, bounded by the
// signer set size.
func (q *Quorum) ChangeThreshold(ctx context.Context, caller string, threshold int) error {
	q.mu.Lock()
	if !q.signers[caller] {
		q.mu.Unlock()
		return claims.ErrUnauthorized
	}
	if threshold <= 0 || threshold > len(q.signers) {
		q.mu.Unlock()
		return claims.ErrThresholdUnreachable
	}
	q.threshold = threshold
	q.mu.Unlock()

	q.log.Append(ctx, claims.Event{
		Type:       claims.EventThresholdChanged,
		ActorType:  "signer",
		ActorID:    caller,
		EntityType: "quorum",
		EntityID:   "threshold",
		Payload:    map[string]any{"threshold": threshold},
	})
	return nil
}

func (q *Quorum) Threshold() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.threshold
}

func (q *Quorum) SignerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signers)
}
