package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"coverpool/internal/domain/claims"
)

type captureSink struct {
	events []claims.Event
	err    error
}

func (s *captureSink) Append(_ context.Context, event claims.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestAppendStampsAndFansOut(t *testing.T) {
	sink := &captureSink{}
	log := NewLog(sink)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log.SetClock(func() time.Time { return now })

	ev := log.Append(context.Background(), claims.Event{
		Type:       claims.EventClaimSubmitted,
		ActorType:  "claimant",
		ActorID:    "alice",
		EntityType: "claim",
		EntityID:   "claim-1",
	})

	if ev.ID == "" {
		t.Fatal("event ID not assigned")
	}
	if !ev.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", ev.CreatedAt, now)
	}
	if len(sink.events) != 1 || sink.events[0].ID != ev.ID {
		t.Fatalf("sink events = %+v", sink.events)
	}
}

func TestSinkFailureDoesNotBlockLog(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	log := NewLog(sink)

	log.Append(context.Background(), claims.Event{
		Type:       claims.EventPoolDeposit,
		EntityType: "pool",
		EntityID:   "USDC",
	})
	if got := len(log.List()); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}
}

func TestListByEntity(t *testing.T) {
	log := NewLog()
	ctx := context.Background()

	log.Append(ctx, claims.Event{Type: claims.EventClaimSubmitted, EntityType: "claim", EntityID: "a"})
	log.Append(ctx, claims.Event{Type: claims.EventClaimPaid, EntityType: "claim", EntityID: "a"})
	log.Append(ctx, claims.Event{Type: claims.EventClaimSubmitted, EntityType: "claim", EntityID: "b"})

	if got := len(log.ListByEntity("claim", "a")); got != 2 {
		t.Fatalf("claim a events = %d, want 2", got)
	}
	if got := len(log.ListByEntity("claim", "b")); got != 1 {
		t.Fatalf("claim b events = %d, want 1", got)
	}
	if got := len(log.ListByEntity("pool", "a")); got != 0 {
		t.Fatalf("pool events = %d, want 0", got)
	}
}
