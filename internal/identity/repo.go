package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/repo"
	"github.com/bountyhub/escrow/pkg/db/models"
)

const (
	columnCustomerID      = "customer_id"
	columnPayoutAccountID = "payout_account_id"
)

// Repository persists principal → processor identity mappings.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByPrincipal returns gorm.ErrRecordNotFound when no mapping exists.
func (r *Repository) FindByPrincipal(ctx context.Context, tx *gorm.DB, principalID uuid.UUID) (*models.BillingIdentity, error) {
	var row models.BillingIdentity
	if err := r.Conn(ctx, tx).Where("principal_id = ?", principalID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Insert fails with a unique violation when another writer already mapped the principal.
func (r *Repository) Insert(ctx context.Context, row *models.BillingIdentity) error {
	return r.DB(ctx).Create(row).Error
}

// SetIfEmpty fills column only while it is still NULL so an earlier winner is never overwritten.
func (r *Repository) SetIfEmpty(ctx context.Context, principalID uuid.UUID, column, value string) (int64, error) {
	if column != columnCustomerID && column != columnPayoutAccountID {
		return 0, fmt.Errorf("unsupported identity column %q", column)
	}
	res := r.DB(ctx).
		Model(&models.BillingIdentity{}).
		Where("principal_id = ? AND "+column+" IS NULL", principalID).
		Update(column, value)
	return res.RowsAffected, res.Error
}

// UpdateCapability records the payout capability reported for accountID.
func (r *Repository) UpdateCapability(ctx context.Context, tx *gorm.DB, accountID string, transfersEnabled, detailsSubmitted bool) (int64, error) {
	res := r.Conn(ctx, tx).
		Model(&models.BillingIdentity{}).
		Where("payout_account_id = ?", accountID).
		Updates(map[string]any{
			"payout_transfers_enabled": transfersEnabled,
			"payout_details_submitted": detailsSubmitted,
		})
	return res.RowsAffected, res.Error
}

// ClearPayoutAccount nulls the payout account; the row itself is never deleted.
func (r *Repository) ClearPayoutAccount(ctx context.Context, principalID uuid.UUID) (int64, error) {
	res := r.DB(ctx).
		Model(&models.BillingIdentity{}).
		Where("principal_id = ?", principalID).
		Updates(map[string]any{
			"payout_account_id":        nil,
			"payout_transfers_enabled": false,
			"payout_details_submitted": false,
		})
	return res.RowsAffected, res.Error
}
