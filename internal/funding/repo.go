package funding

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

// Repository owns bounty funding state, funding intents and settlements.
// Every state transition is a conditional update on the expected prior state.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) FindBounty(ctx context.Context, tx *gorm.DB, bountyID string) (*models.BountyFunding, error) {
	var row models.BountyFunding
	if err := r.Conn(ctx, tx).Where("bounty_id = ?", bountyID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureBounty inserts an unfunded row unless one already exists.
func (r *Repository) EnsureBounty(ctx context.Context, tx *gorm.DB, bountyID string) error {
	row := models.BountyFunding{BountyID: bountyID, State: enums.FundingStateUnfunded}
	return r.Conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "bounty_id"}}, DoNothing: true}).
		Create(&row).Error
}

// HoldBounty moves unfunded → held and records the canonical intent.
func (r *Repository) HoldBounty(ctx context.Context, tx *gorm.DB, bountyID, intentID string, principalID uuid.UUID, amount int64, currency string, at time.Time) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.BountyFunding{}).
		Where("bounty_id = ? AND state = ?", bountyID, enums.FundingStateUnfunded).
		Updates(map[string]any{
			"state":              enums.FundingStateHeld,
			"funded_intent_id":   intentID,
			"principal_id":       principalID,
			"amount_minor_units": amount,
			"currency":           currency,
			"held_at":            at,
		})
	return res.RowsAffected, res.Error
}

// ReleaseBounty moves held → released.
func (r *Repository) ReleaseBounty(ctx context.Context, tx *gorm.DB, bountyID string, at time.Time) (int64, error) {
	return r.leaveHeld(ctx, tx, bountyID, enums.FundingStateReleased, "released_at", at)
}

// RefundBounty moves held → refunded.
func (r *Repository) RefundBounty(ctx context.Context, tx *gorm.DB, bountyID string, at time.Time) (int64, error) {
	return r.leaveHeld(ctx, tx, bountyID, enums.FundingStateRefunded, "refunded_at", at)
}

func (r *Repository) leaveHeld(ctx context.Context, tx *gorm.DB, bountyID string, next enums.FundingState, stampColumn string, at time.Time) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.BountyFunding{}).
		Where("bounty_id = ? AND state = ?", bountyID, enums.FundingStateHeld).
		Updates(map[string]any{"state": next, stampColumn: at})
	return res.RowsAffected, res.Error
}

func (r *Repository) FindIntent(ctx context.Context, tx *gorm.DB, intentID string) (*models.FundingIntent, error) {
	var row models.FundingIntent
	if err := r.Conn(ctx, tx).Where("intent_id = ?", intentID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// HasSucceededIntent reports whether any intent for the bounty already succeeded.
func (r *Repository) HasSucceededIntent(ctx context.Context, tx *gorm.DB, bountyID string) (bool, error) {
	var count int64
	err := r.Conn(ctx, tx).
		Model(&models.FundingIntent{}).
		Where("bounty_id = ? AND status = ?", bountyID, enums.FundingIntentSucceeded).
		Count(&count).Error
	return count > 0, err
}

// InsertIntent ignores a repeated intent id so idempotent processor replays are harmless.
func (r *Repository) InsertIntent(ctx context.Context, tx *gorm.DB, row *models.FundingIntent) error {
	return r.Conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "intent_id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *Repository) MarkIntentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error {
	return r.Conn(ctx, tx).
		Model(&models.FundingIntent{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]any{"status": enums.FundingIntentSucceeded, "failure_reason": nil}).Error
}

// MarkIntentClosed records failed/canceled; a succeeded intent never regresses.
func (r *Repository) MarkIntentClosed(ctx context.Context, tx *gorm.DB, intentID string, status enums.FundingIntentStatus, reason *string) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.FundingIntent{}).
		Where("intent_id = ? AND status <> ?", intentID, enums.FundingIntentSucceeded).
		Updates(map[string]any{"status": status, "failure_reason": reason})
	return res.RowsAffected, res.Error
}

// ClaimSettlement inserts a pending settlement. The partial unique index on
// bounty_id rejects a second live claim with a unique violation.
func (r *Repository) ClaimSettlement(ctx context.Context, tx *gorm.DB, row *models.Settlement) error {
	return r.Conn(ctx, tx).Create(row).Error
}

// FindLiveSettlement returns the pending, unknown or succeeded settlement of a bounty.
func (r *Repository) FindLiveSettlement(ctx context.Context, tx *gorm.DB, bountyID string) (*models.Settlement, error) {
	var row models.Settlement
	err := r.Conn(ctx, tx).
		Where("bounty_id = ? AND status <> ?", bountyID, enums.SettlementFailed).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FinishSettlement moves a pending settlement to its outcome.
func (r *Repository) FinishSettlement(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.SettlementStatus, ref, reason *string) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.Settlement{}).
		Where("id = ? AND status = ?", id, enums.SettlementPending).
		Updates(map[string]any{
			"status":         status,
			"processor_ref":  ref,
			"failure_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// ListSettlementsForRecipient feeds the activity projection.
func (r *Repository) ListSettlementsForRecipient(ctx context.Context, principalID uuid.UUID) ([]models.Settlement, error) {
	var rows []models.Settlement
	err := r.DB(ctx).
		Where("recipient_principal_id = ?", principalID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// ListIntentsForPrincipal feeds the activity projection.
func (r *Repository) ListIntentsForPrincipal(ctx context.Context, principalID uuid.UUID) ([]models.FundingIntent, error) {
	var rows []models.FundingIntent
	err := r.DB(ctx).
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
