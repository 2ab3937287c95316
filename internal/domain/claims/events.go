package claims

import (
	"context"
	"time"
)

type EventType string

const (
	EventClaimSubmitted        EventType = "claim.submitted"
	EventClaimVerified         EventType = "claim.verified"
	EventClaimRejected         EventType = "claim.rejected"
	EventClaimEscalated        EventType = "claim.escalated"
	EventClaimPaid             EventType = "claim.paid"
	EventPayoutDeferred        EventType = "claim.payout_deferred"
	EventClaimOverridden       EventType = "claim.overridden"
	EventVerificationRequested EventType = "verification.requested"
	EventVerificationFulfilled EventType = "verification.fulfilled"
	EventVerificationFailed    EventType = "verification.failed"
	EventVerificationTimedOut  EventType = "verification.timed_out"
	EventApprovalCreated       EventType = "approval.created"
	EventApprovalSigned        EventType = "approval.signed"
	EventApprovalExecuted      EventType = "approval.executed"
	EventSignerAdded           EventType = "quorum.signer_added"
	EventSignerRemoved         EventType = "quorum.signer_removed"
	EventThresholdChanged      EventType = "quorum.threshold_changed"
	EventPoolDeposit           EventType = "pool.deposit"
	EventPoolWithdrawal        EventType = "pool.withdrawal"
	EventPoolEmergency         EventType = "pool.emergency_withdrawal"
)

// Event is one immutable audit record: who did what to which entity, when.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RateLimitDecision mirrors the limiter verdict for one key/window.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}

type Principal struct {
	Subject string
	Roles   []string
}

type Authorizer interface {
	Require(principal Principal, permission string) error
}
