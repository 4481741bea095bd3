package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
)

// FundingIntent is a processor request to collect a bounty's funds.
type FundingIntent struct {
	ID               uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	IntentID         string                    `gorm:"column:intent_id;type:text;not null;uniqueIndex:ux_funding_intents_intent"`
	BountyID         string                    `gorm:"column:bounty_id;type:text;not null;index:ix_funding_intents_bounty"`
	PrincipalID      uuid.UUID                 `gorm:"column:principal_id;type:uuid;not null"`
	PrincipalType    enums.PrincipalType       `gorm:"column:principal_type;type:text;not null;default:''"`
	AmountMinorUnits int64                     `gorm:"column:amount_minor_units;not null"`
	Currency         string                    `gorm:"column:currency;type:text;not null"`
	Status           enums.FundingIntentStatus `gorm:"column:status;type:text;not null"`
	FailureReason    *string                   `gorm:"column:failure_reason;type:text"`
	CreatedAt        time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (FundingIntent) TableName() string { return "funding_intents" }

func (f *FundingIntent) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}

// BountyFunding is the escrow state of a single bounty.
type BountyFunding struct {
	BountyID         string             `gorm:"column:bounty_id;type:text;primaryKey"`
	State            enums.FundingState `gorm:"column:state;type:text;not null"`
	FundedIntentID   *string            `gorm:"column:funded_intent_id;type:text;uniqueIndex:ux_bounty_fundings_intent"`
	PrincipalID      *uuid.UUID         `gorm:"column:principal_id;type:uuid"`
	AmountMinorUnits int64              `gorm:"column:amount_minor_units;not null;default:0"`
	Currency         string             `gorm:"column:currency;type:text;not null;default:''"`
	HeldAt           *time.Time         `gorm:"column:held_at"`
	ReleasedAt       *time.Time         `gorm:"column:released_at"`
	RefundedAt       *time.Time         `gorm:"column:refunded_at"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (BountyFunding) TableName() string { return "bounty_fundings" }

// Settlement records one attempt to move held funds out of escrow.
type Settlement struct {
	ID                   uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	BountyID             string                 `gorm:"column:bounty_id;type:text;not null;uniqueIndex:ux_bounty_settlements_active,where:status <> 'failed'"`
	Kind                 enums.SettlementKind   `gorm:"column:kind;type:text;not null"`
	Status               enums.SettlementStatus `gorm:"column:status;type:text;not null"`
	RecipientPrincipalID *uuid.UUID             `gorm:"column:recipient_principal_id;type:uuid"`
	AmountMinorUnits     int64                  `gorm:"column:amount_minor_units;not null"`
	Currency             string                 `gorm:"column:currency;type:text;not null"`
	ProcessorRef         *string                `gorm:"column:processor_ref;type:text"`
	FailureReason        *string                `gorm:"column:failure_reason;type:text"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Settlement) TableName() string { return "bounty_settlements" }

func (s *Settlement) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
