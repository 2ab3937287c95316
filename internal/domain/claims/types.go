package claims

import (
	"errors"
	"strings"
	"time"
)

// Asset identifies a pooled asset type, e.g. "USDC".
type Asset string

type ClaimStatus string

const (
	StatusPending       ClaimStatus = "pending"
	StatusInvestigating ClaimStatus = "investigating"
	StatusPaid          ClaimStatus = "paid"
	StatusRejected      ClaimStatus = "rejected"
)

// IsTerminal reports whether the status can never be left again.
func (s ClaimStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationFulfilled VerificationStatus = "fulfilled"
	VerificationFailed    VerificationStatus = "failed"
)

type Claim struct {
	ID                 string
	Claimant           string
	PolicyRef          string
	Asset              Asset
	Amount             int64
	EvidenceRef        string
	Status             ClaimStatus
	RequiresEscalation bool
	Authority          string
	VerificationID     string
	ApprovalTxID       string
	SubmittedAt        time.Time
	ResolvedAt         *time.Time
}

type VerificationRequest struct {
	ID          string
	ClaimID     string
	EvidenceRef string
	Requester   string
	Authority   string
	Status      VerificationStatus
	Result      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type ApprovalTransaction struct {
	ID        string
	Recipient string
	Asset     Asset
	Amount    int64
	ClaimID   string
	Approvals []string
	Executed  bool
	CreatedAt time.Time
}

// Approved reports whether approverID already signed this transaction.
func (tx ApprovalTransaction) Approved(approverID string) bool {
	for _, id := range tx.Approvals {
		if id == approverID {
			return true
		}
	}
	return false
}

// Policy is an external coverage record. It arrives already validated;
// this core only reads it.
type Policy struct {
	Ref      string
	Claimant string
	Asset    Asset
	Coverage int64
	Active   bool
}

type PolicySource interface {
	Get(policyRef string) (Policy, error)
}

// StaticPolicySource serves a fixed policy set, keyed by policy ref.
// Used for wiring without an external policy store and in tests.
type StaticPolicySource map[string]Policy

func (s StaticPolicySource) Get(policyRef string) (Policy, error) {
	p, ok := s[strings.TrimSpace(policyRef)]
	if !ok {
		return Policy{}, ErrInvalidPolicy
	}
	return p, nil
}

var (
	ErrInvalidPolicy         = errors.New("invalid policy")
	ErrAmountExceedsCoverage = errors.New("amount exceeds coverage")
	ErrInvalidEvidence       = errors.New("invalid evidence")
	ErrClaimFinalized        = errors.New("claim finalized")
	ErrRequestNotPending     = errors.New("request not pending")
	ErrRequestExpired        = errors.New("request expired")
	ErrAlreadyApproved       = errors.New("already approved")
	ErrThresholdUnreachable  = errors.New("threshold unreachable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
)
