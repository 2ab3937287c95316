// Package ledger owns the claim lifecycle: Pending -> Investigating or
// Rejected on the verification result, Investigating -> Paid through the
// pool, with quorum escalation for high-value claims. Paid and Rejected
// are terminal; any mutation attempted on a terminal claim fails with
// ClaimFinalized.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"
	"coverpool/internal/pool"
	"coverpool/internal/quorum"
	"coverpool/internal/verify"

	"github.com/google/uuid"
)

// DefaultEscalationThreshold is the claim amount at or above which quorum
// approval is required before payout.
const DefaultEscalationThreshold int64 = 10_000

// WithdrawerIdentity is the identity the ledger presents to the pool's
// authorized-withdrawer gate.
const WithdrawerIdentity = "claim-ledger"

// EscalationPolicy decides whether a claim needs quorum approval.
type EscalationPolicy interface {
	RequiresEscalation(ctx context.Context, policy claims.Policy, amount int64) (bool, error)
}

// FixedThreshold escalates at or above a fixed amount.
type FixedThreshold struct {
	Threshold int64
}

func (f FixedThreshold) RequiresEscalation(_ context.Context, _ claims.Policy, amount int64) (bool, error) {
	threshold := f.Threshold
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return amount >= threshold, nil
}

type Deps struct {
	Policies    claims.PolicySource
	Verifier    *verify.Service
	Quorum      *quorum.Quorum
	Pool        *pool.Pool
	Escalation  EscalationPolicy
	Authorities []string
	Operators   []string
	Log         *audit.Log
}

type Ledger struct {
	mu         sync.Mutex
	claims     map[string]*claims.Claim
	byRequest  map[string]string
	byClaimant map[string][]string
	authIdx    int

	policies    claims.PolicySource
	verifier    *verify.Service
	quorum      *quorum.Quorum
	pool        *pool.Pool
	escalation  EscalationPolicy
	authorities []string
	operators   map[string]bool
	clock       func() time.Time
	log         *audit.Log
}

func New(deps Deps) *Ledger {
	escalation := deps.Escalation
	if escalation == nil {
		escalation = FixedThreshold{Threshold: DefaultEscalationThreshold}
	}
	operators := make(map[string]bool, len(deps.Operators))
	for _, op := range deps.Operators {
		operators[op] = true
	}
	return &Ledger{
		claims:      make(map[string]*claims.Claim),
		byRequest:   make(map[string]string),
		byClaimant:  make(map[string][]string),
		policies:    deps.Policies,
		verifier:    deps.Verifier,
		quorum:      deps.Quorum,
		pool:        deps.Pool,
		escalation:  escalation,
		authorities: deps.Authorities,
		operators:   operators,
		clock:       time.Now,
		log:         deps.Log,
	}
}

// SetClock overrides the timestamp source. Test hook.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if clock != nil {
		l.clock = clock
	}
}

type SubmitInput struct {
	Claimant    string
	PolicyRef   string
	Amount      int64
	EvidenceRef string
}

// Submit validates the claim against its policy, opens a verification
// request with the next authority, and records the claim as Pending.
func (l *Ledger) Submit(ctx context.Context, input SubmitInput) (string, error) {
	if strings.TrimSpace(input.EvidenceRef) == "" {
		return "", claims.ErrInvalidEvidence
	}
	if input.Claimant == "" || input.Amount <= 0 {
		return "", claims.ErrInvalidArgument
	}
	policy, err := l.policies.Get(input.PolicyRef)
	if err != nil {
		return "", claims.ErrInvalidPolicy
	}
	if !policy.Active || policy.Claimant != input.Claimant {
		return "", claims.ErrInvalidPolicy
	}
	if input.Amount > policy.Coverage {
		return "", claims.ErrAmountExceedsCoverage
	}

	escalate, err := l.escalation.RequiresEscalation(ctx, policy, input.Amount)
	if err != nil {
		return "", err
	}

	claimID := uuid.NewString()
	authority := l.nextAuthority()
	requestID, err := l.verifier.Request(ctx, claimID, input.EvidenceRef, input.Claimant, authority)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	now := l.clock().UTC()
	c := &claims.Claim{
		ID:                 claimID,
		Claimant:           input.Claimant,
		PolicyRef:          input.PolicyRef,
		Asset:              policy.Asset,
		Amount:             input.Amount,
		EvidenceRef:        input.EvidenceRef,
		Status:             claims.StatusPending,
		RequiresEscalation: escalate,
		Authority:          authority,
		VerificationID:     requestID,
		SubmittedAt:        now,
	}
	l.claims[claimID] = c
	l.byRequest[requestID] = claimID
	l.byClaimant[input.Claimant] = append(l.byClaimant[input.Claimant], claimID)
	l.mu.Unlock()

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimSubmitted,
		ActorType:  "claimant",
		ActorID:    input.Claimant,
		EntityType: "claim",
		EntityID:   claimID,
		Payload: map[string]any{
			"policy_ref": input.PolicyRef,
			"amount":     input.Amount,
			"asset":      string(policy.Asset),
			"escalation": escalate,
			"authority":  authority,
		},
	})
	return claimID, nil
}

// OnVerificationResult moves a Pending claim forward. It is the
// verification service's callback and is not exposed on the API surface.
func (l *Ledger) OnVerificationResult(ctx context.Context, requestID string, approved bool) error {
	l.mu.Lock()
	claimID, ok := l.byRequest[requestID]
	if !ok {
		l.mu.Unlock()
		return claims.ErrNotFound
	}
	c := l.claims[claimID]
	if c.Status.IsTerminal() {
		l.mu.Unlock()
		return claims.ErrClaimFinalized
	}
	if c.Status != claims.StatusPending {
		l.mu.Unlock()
		return claims.ErrRequestNotPending
	}

	if !approved {
		l.rejectLocked(ctx, c, "verification")
		l.mu.Unlock()
		return nil
	}

	c.Status = claims.StatusInvestigating
	l.mu.Unlock()

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimVerified,
		ActorType:  "authority",
		ActorID:    c.Authority,
		EntityType: "claim",
		EntityID:   c.ID,
	})

	// The accepted result is committed once the claim is Investigating.
	// Failures past this point (insufficient liquidity, escalation setup)
	// leave the claim Investigating and retryable; they must not bounce
	// back into the verification service and mark a fulfilled request
	// Failed.
	if !c.RequiresEscalation {
		if err := l.Payout(ctx, c.ID); err != nil {
			l.log.Append(ctx, claims.Event{
				Type:       claims.EventPayoutDeferred,
				ActorType:  "system",
				ActorID:    "ledger",
				EntityType: "claim",
				EntityID:   c.ID,
				Payload:    map[string]any{"error": err.Error()},
			})
		}
		return nil
	}

	txID, err := l.quorum.CreateRequest(ctx, c.Claimant, c.Asset, c.Amount, c.ID)
	if err != nil {
		// No approval transaction; the claim waits for ManualOverride.
		l.log.Append(ctx, claims.Event{
			Type:       claims.EventPayoutDeferred,
			ActorType:  "system",
			ActorID:    "ledger",
			EntityType: "claim",
			EntityID:   c.ID,
			Payload:    map[string]any{"error": err.Error()},
		})
		return nil
	}
	l.mu.Lock()
	c.ApprovalTxID = txID
	l.mu.Unlock()

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimEscalated,
		ActorType:  "system",
		ActorID:    "ledger",
		EntityType: "claim",
		EntityID:   c.ID,
		Payload:    map[string]any{"approval_tx_id": txID},
	})
	return nil
}

// Payout settles an Investigating claim from the pool. For escalated
// claims the quorum transaction must have executed first. Retryable: an
// insufficient-liquidity failure leaves the claim Investigating.
func (l *Ledger) Payout(ctx context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[claimID]
	if !ok {
		return claims.ErrNotFound
	}
	return l.payoutLocked(ctx, c, false, "system", "ledger")
}

// ReleaseApproved is the quorum's fund-release callback.
func (l *Ledger) ReleaseApproved(ctx context.Context, tx claims.ApprovalTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[tx.ClaimID]
	if !ok {
		return claims.ErrNotFound
	}
	return l.payoutLocked(ctx, c, false, "system", "quorum")
}

// ManualOverride lets an authorized operator force a decision the
// automated path cannot resolve. Decision is "approve" or "reject".
// Never valid on a terminal claim.
func (l *Ledger) ManualOverride(ctx context.Context, claimID, decision, actor string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.operators[actor] {
		return claims.ErrUnauthorized
	}
	c, ok := l.claims[claimID]
	if !ok {
		return claims.ErrNotFound
	}
	if c.Status.IsTerminal() {
		return claims.ErrClaimFinalized
	}

	switch decision {
	case "approve":
		if c.Status == claims.StatusPending {
			c.Status = claims.StatusInvestigating
		}
		if err := l.payoutLocked(ctx, c, true, "operator", actor); err != nil {
			return err
		}
	case "reject":
		l.rejectLocked(ctx, c, "operator:"+actor)
	default:
		return claims.ErrInvalidArgument
	}

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimOverridden,
		ActorType:  "operator",
		ActorID:    actor,
		EntityType: "claim",
		EntityID:   claimID,
		Payload:    map[string]any{"decision": decision},
	})
	return nil
}

func (l *Ledger) GetClaim(claimID string) (claims.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[claimID]
	if !ok {
		return claims.Claim{}, claims.ErrNotFound
	}
	return *c, nil
}

func (l *Ledger) ListClaimsByClaimant(claimant string) []claims.Claim {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byClaimant[claimant]
	out := make([]claims.Claim, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.claims[id])
	}
	return out
}

// payoutLocked moves an Investigating claim to Paid through the pool.
// Must be called with l.mu held. force skips the quorum-executed check
// (manual override path only).
func (l *Ledger) payoutLocked(ctx context.Context, c *claims.Claim, force bool, actorType, actorID string) error {
	if c.Status.IsTerminal() {
		return claims.ErrClaimFinalized
	}
	if c.Status != claims.StatusInvestigating {
		return claims.ErrInvalidArgument
	}
	if c.RequiresEscalation && !force {
		if c.ApprovalTxID == "" {
			return claims.ErrUnauthorized
		}
		tx, err := l.quorum.Get(c.ApprovalTxID)
		if err != nil {
			return err
		}
		if !tx.Executed {
			return claims.ErrUnauthorized
		}
	}

	if err := l.pool.Withdraw(ctx, WithdrawerIdentity, c.Asset, c.Amount, c.Claimant, c.ID); err != nil {
		return err
	}

	now := l.clock().UTC()
	c.Status = claims.StatusPaid
	c.ResolvedAt = &now

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimPaid,
		ActorType:  actorType,
		ActorID:    actorID,
		EntityType: "claim",
		EntityID:   c.ID,
		Payload:    map[string]any{"amount": c.Amount, "asset": string(c.Asset)},
	})
	return nil
}

// rejectLocked stamps the claim Rejected. Must be called with l.mu held.
func (l *Ledger) rejectLocked(ctx context.Context, c *claims.Claim, by string) {
	now := l.clock().UTC()
	c.Status = claims.StatusRejected
	c.ResolvedAt = &now

	l.log.Append(ctx, claims.Event{
		Type:       claims.EventClaimRejected,
		ActorType:  "system",
		ActorID:    by,
		EntityType: "claim",
		EntityID:   c.ID,
	})
}

func (l *Ledger) nextAuthority() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.authorities) == 0 {
		return "default-authority"
	}
	authority := l.authorities[l.authIdx%len(l.authorities)]
	l.authIdx++
	return authority
}
