package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bountyhub/escrow/internal/repo"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
)

// Repository persists webhook dedup markers.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Claim inserts the marker if absent and returns it locked for the rest of tx.
func (r *Repository) Claim(ctx context.Context, tx *gorm.DB, eventID, eventType string, source enums.WebhookSource, at time.Time) (*models.WebhookEvent, error) {
	conn := r.Conn(ctx, tx)
	row := models.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		Source:     source,
		ReceivedAt: at,
	}
	if err := conn.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row).Error; err != nil {
		return nil, err
	}

	var locked models.WebhookEvent
	if err := conn.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("event_id = ?", eventID).
		First(&locked).Error; err != nil {
		return nil, err
	}
	return &locked, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
		}).Error
}

// RecordFailure runs outside the rolled-back transaction so the attempt
// survives for the next delivery.
func (r *Repository) RecordFailure(ctx context.Context, eventID, eventType string, source enums.WebhookSource, reason string, at time.Time) error {
	row := models.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		Source:     source,
		ReceivedAt: at,
		Attempts:   1,
		LastError:  &reason,
	}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":   gorm.Expr("webhook_events.attempts + 1"),
				"last_error": reason,
			}),
		}).
		Create(&row).Error
}

// DeleteProcessedBefore purges processed markers older than cutoff.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.DB(ctx).
		Model(&models.WebhookEvent{}).
		Select("id").
		Where("processed_at IS NOT NULL AND processed_at < ?", cutoff)
	if limit > 0 {
		sub = sub.Limit(limit)
	}
	res := r.DB(ctx).Where("id IN (?)", sub).Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}
