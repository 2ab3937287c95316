package db

import "time"

type ClaimEventModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	EventType   string    `gorm:"column:event_type;index;not null"`
	ActorType   string    `gorm:"not null"`
	ActorID     string    `gorm:"index"`
	EntityType  string    `gorm:"index;not null"`
	EntityID    string    `gorm:"index;not null"`
	PayloadJSON []byte    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (ClaimEventModel) TableName() string {
	return "claim_events"
}

type PolicyModel struct {
	Ref       string    `gorm:"primaryKey"`
	Claimant  string    `gorm:"index;not null"`
	Asset     string    `gorm:"not null"`
	Coverage  int64     `gorm:"not null"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (PolicyModel) TableName() string {
	return "policies"
}
