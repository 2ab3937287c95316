// Package audit keeps the append-only record of every state transition in
// the claims core. External observers (UI, notifications) consume this log
// instead of polling entity state.
package audit

import (
	"context"
	"sync"
	"time"

	"coverpool/internal/domain/claims"

	"github.com/google/uuid"
)

// Sink receives every appended event, e.g. a database archive.
// Sink failures do not block the in-memory log.
type Sink interface {
	Append(ctx context.Context, event claims.Event) error
}

type Log struct {
	mu     sync.Mutex
	events []claims.Event
	sinks  []Sink
	clock  func() time.Time
}

func NewLog(sinks ...Sink) *Log {
	return &Log{sinks: sinks, clock: time.Now}
}

// SetClock overrides the timestamp source. Test hook.
func (l *Log) SetClock(clock func() time.Time) {
	if clock != nil {
		l.clock = clock
	}
}

func (l *Log) Append(ctx context.Context, event claims.Event) claims.Event {
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.clock().UTC()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	sinks := l.sinks
	l.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Append(ctx, event)
	}
	return event
}

func (l *Log) List() []claims.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]claims.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) ListByEntity(entityType, entityID string) []claims.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []claims.Event
	for _, ev := range l.events {
		if ev.EntityType == entityType && ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out
}
