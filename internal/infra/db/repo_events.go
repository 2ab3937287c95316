package db

import (
	"context"
	"encoding/json"

	"coverpool/internal/domain/claims"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventArchive persists audit events. It implements audit.Sink.
type EventArchive struct {
	db *gorm.DB
}

func NewEventArchive(db *gorm.DB) *EventArchive {
	return &EventArchive{db: db}
}

func (r *EventArchive) Append(ctx context.Context, event claims.Event) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	model := ClaimEventModel{
		ID:          event.ID,
		EventType:   string(event.Type),
		ActorType:   event.ActorType,
		ActorID:     event.ActorID,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		PayloadJSON: payload,
		CreatedAt:   event.CreatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// ListByEntity returns the archived events for one entity, oldest first.
func (r *EventArchive) ListByEntity(ctx context.Context, entityType, entityID string) ([]claims.Event, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ClaimEventModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]claims.Event, 0, len(models))
	for _, m := range models {
		var payload map[string]any
		if err := json.Unmarshal(m.PayloadJSON, &payload); err != nil {
			return nil, err
		}
		out = append(out, claims.Event{
			ID:         m.ID,
			Type:       claims.EventType(m.EventType),
			ActorType:  m.ActorType,
			ActorID:    m.ActorID,
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			Payload:    payload,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}
