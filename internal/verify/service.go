// Package verify runs the asynchronous verification protocol: one request
// per claim, one assigned authority, a timeout horizon resolved by an
// explicit externally-triggered check. There is no background timer; a
// deployment with no persistent clock can still drain expired requests.
package verify

import (
	"context"
	"sync"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"

	"github.com/google/uuid"
)

const DefaultTimeout = time.Hour

// ResultHandler consumes resolved verifications. The claim ledger
// implements it.
type ResultHandler interface {
	OnVerificationResult(ctx context.Context, requestID string, approved bool) error
}

type Service struct {
	mu       sync.Mutex
	requests map[string]*claims.VerificationRequest
	handler  ResultHandler
	timeout  time.Duration
	clock    func() time.Time
	log      *audit.Log
}

func New(timeout time.Duration, log *audit.Log) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		requests: make(map[string]*claims.VerificationRequest),
		timeout:  timeout,
		clock:    time.Now,
		log:      log,
	}
}

// SetHandler wires the result callback. Must be set before Respond or
// CheckTimeout can resolve anything.
func (s *Service) SetHandler(h ResultHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetClock overrides the timestamp source. Test hook.
func (s *Service) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clock != nil {
		s.clock = clock
	}
}

// Request opens a pending verification for claimID routed to authority.
func (s *Service) Request(ctx context.Context, claimID, evidenceRef, requester, authority string) (string, error) {
	if claimID == "" || evidenceRef == "" || authority == "" {
		return "", claims.ErrInvalidArgument
	}

	s.mu.Lock()
	now := s.clock().UTC()
	req := &claims.VerificationRequest{
		ID:          uuid.NewString(),
		ClaimID:     claimID,
		EvidenceRef: evidenceRef,
		Requester:   requester,
		Authority:   authority,
		Status:      claims.VerificationPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.timeout),
	}
	s.requests[req.ID] = req
	s.mu.Unlock()

	s.log.Append(ctx, claims.Event{
		Type:       claims.EventVerificationRequested,
		ActorType:  "system",
		ActorID:    requester,
		EntityType: "verification",
		EntityID:   req.ID,
		Payload:    map[string]any{"claim_id": claimID, "authority": authority},
	})
	return req.ID, nil
}

// Respond resolves a pending request. Only the assigned authority may call
// it. The request is marked Fulfilled before the handler runs, so a
// reentrant Respond fails with RequestNotPending; if the handler rejects
// the result, the request is re-marked Failed instead of Fulfilled.
func (s *Service) Respond(ctx context.Context, requestID, authority string, result bool) error {
	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return claims.ErrNotFound
	}
	if req.Authority != authority {
		s.mu.Unlock()
		return claims.ErrUnauthorized
	}
	if req.Status != claims.VerificationPending {
		s.mu.Unlock()
		return claims.ErrRequestNotPending
	}
	if s.clock().UTC().After(req.ExpiresAt) {
		s.mu.Unlock()
		return claims.ErrRequestExpired
	}
	req.Status = claims.VerificationFulfilled
	req.Result = result
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.fail(requestID)
		return claims.ErrInvalidArgument
	}
	if err := handler.OnVerificationResult(ctx, requestID, result); err != nil {
		s.fail(requestID)
		s.log.Append(ctx, claims.Event{
			Type:       claims.EventVerificationFailed,
			ActorType:  "authority",
			ActorID:    authority,
			EntityType: "verification",
			EntityID:   requestID,
			Payload:    map[string]any{"claim_id": req.ClaimID, "error": err.Error()},
		})
		return err
	}

	s.log.Append(ctx, claims.Event{
		Type:       claims.EventVerificationFulfilled,
		ActorType:  "authority",
		ActorID:    authority,
		EntityType: "verification",
		EntityID:   requestID,
		Payload:    map[string]any{"claim_id": req.ClaimID, "result": result},
	})
	return nil
}

// CheckTimeout resolves a pending request past its horizon as failed and
// reports a negative result to the handler. Callable by anyone. Returns
// false when the request is not pending or not yet expired (a no-op).
func (s *Service) CheckTimeout(ctx context.Context, requestID string) (bool, error) {
	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return false, claims.ErrNotFound
	}
	if req.Status != claims.VerificationPending || !s.clock().UTC().After(req.ExpiresAt) {
		s.mu.Unlock()
		return false, nil
	}
	req.Status = claims.VerificationFailed
	req.Result = false
	handler := s.handler
	claimID := req.ClaimID
	s.mu.Unlock()

	if handler != nil {
		// A finalized claim rejecting the result is fine here; the
		// request is already terminally Failed.
		_ = handler.OnVerificationResult(ctx, requestID, false)
	}

	s.log.Append(ctx, claims.Event{
		Type:       claims.EventVerificationTimedOut,
		ActorType:  "system",
		ActorID:    "timeout",
		EntityType: "verification",
		EntityID:   requestID,
		Payload:    map[string]any{"claim_id": claimID},
	})
	return true, nil
}

func (s *Service) Get(requestID string) (claims.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return claims.VerificationRequest{}, claims.ErrNotFound
	}
	return *req, nil
}

func (s *Service) fail(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestID]; ok {
		req.Status = claims.VerificationFailed
	}
}
