package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
)

// WebhookEvent is the dedup marker for an inbound processor event.
type WebhookEvent struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	EventID     string              `gorm:"column:event_id;type:text;not null;uniqueIndex:ux_webhook_events_event"`
	EventType   string              `gorm:"column:event_type;type:text;not null"`
	Source      enums.WebhookSource `gorm:"column:source;type:text;not null"`
	ReceivedAt  time.Time           `gorm:"column:received_at;not null"`
	ProcessedAt *time.Time          `gorm:"column:processed_at"`
	Attempts    int                 `gorm:"column:attempts;not null;default:0"`
	LastError   *string             `gorm:"column:last_error;type:text"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
