package plans

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

// Repository persists membership billing state.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) FindBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) (*models.MembershipPlan, error) {
	var row models.MembershipPlan
	if err := r.Conn(ctx, tx).Where("subscription_id = ?", subscriptionID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByPrincipal(ctx context.Context, tx *gorm.DB, principalID uuid.UUID) (*models.MembershipPlan, error) {
	var row models.MembershipPlan
	if err := r.Conn(ctx, tx).Where("principal_id = ?", principalID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, row *models.MembershipPlan) error {
	return r.Conn(ctx, tx).Create(row).Error
}

// Update writes the listed columns for one plan row.
func (r *Repository) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	return r.Conn(ctx, tx).
		Model(&models.MembershipPlan{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// DowngradeLapsed moves paid plans whose expiry is older than cutoff back to free.
func (r *Repository) DowngradeLapsed(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.MembershipPlan{}).
		Where("plan IN ? AND expires_at IS NOT NULL AND expires_at < ?", []enums.PlanTier{enums.PlanPro, enums.PlanPastDue}, cutoff).
		Updates(map[string]any{"plan": enums.PlanFree})
	return res.RowsAffected, res.Error
}

// RecordCanceled stores a cancellation marker. Repeats keep the first marker.
func (r *Repository) RecordCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string, principalID *uuid.UUID, at time.Time) error {
	row := models.CanceledSubscription{SubscriptionID: subscriptionID, PrincipalID: principalID, CanceledAt: at}
	return r.Conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "subscription_id"}}, DoNothing: true}).
		Create(&row).Error
}

func (r *Repository) IsCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string) (bool, error) {
	var count int64
	err := r.Conn(ctx, tx).
		Model(&models.CanceledSubscription{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count > 0, err
}
