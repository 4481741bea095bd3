package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
)

// BillingIdentity maps a principal to its processor customer and payout account.
type BillingIdentity struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PrincipalID            uuid.UUID           `gorm:"column:principal_id;type:uuid;not null;uniqueIndex:ux_billing_identities_principal"`
	PrincipalType          enums.PrincipalType `gorm:"column:principal_type;type:text;not null"`
	CustomerID             *string             `gorm:"column:customer_id;type:text;uniqueIndex:ux_billing_identities_customer"`
	PayoutAccountID        *string             `gorm:"column:payout_account_id;type:text;uniqueIndex:ux_billing_identities_payout_account"`
	PayoutTransfersEnabled bool                `gorm:"column:payout_transfers_enabled;not null;default:false"`
	PayoutDetailsSubmitted bool                `gorm:"column:payout_details_submitted;not null;default:false"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingIdentity) TableName() string { return "billing_identities" }

func (b *BillingIdentity) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
