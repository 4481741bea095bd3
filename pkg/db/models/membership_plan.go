package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
)

// MembershipPlan is the billing state of a principal's recurring membership.
type MembershipPlan struct {
	ID                uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	PrincipalID       uuid.UUID      `gorm:"column:principal_id;type:uuid;not null;uniqueIndex:ux_membership_plans_principal"`
	Plan              enums.PlanTier `gorm:"column:plan;type:text;not null"`
	SubscriptionID    *string        `gorm:"column:subscription_id;type:text;uniqueIndex:ux_membership_plans_subscription"`
	ExpiresAt         *time.Time     `gorm:"column:expires_at"`
	FailedChargeCount int            `gorm:"column:failed_charge_count;not null;default:0"`
	LastFailedAt      *time.Time     `gorm:"column:last_failed_at"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (MembershipPlan) TableName() string { return "membership_plans" }

func (m *MembershipPlan) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// CanceledSubscription remembers a cancellation so a late subscription.created
// for the same id cannot reactivate the plan.
type CanceledSubscription struct {
	SubscriptionID string     `gorm:"column:subscription_id;type:text;primaryKey"`
	PrincipalID    *uuid.UUID `gorm:"column:principal_id;type:uuid"`
	CanceledAt     time.Time  `gorm:"column:canceled_at;not null"`
}

func (CanceledSubscription) TableName() string { return "canceled_subscriptions" }
