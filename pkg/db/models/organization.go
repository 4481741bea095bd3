package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
)

// Organization is a team principal that can fund bounties.
type Organization struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name         string    `gorm:"column:name;type:text;not null"`
	BillingEmail string    `gorm:"column:billing_email;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Organization) TableName() string { return "organizations" }

func (o *Organization) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrganizationMembership links a user with an organization and captures their role/status.
type OrganizationMembership struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID              `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_org_memberships_org_user"`
	UserID         uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_org_memberships_org_user"`
	Role           enums.MemberRole       `gorm:"column:role;type:text;not null"`
	Status         enums.MembershipStatus `gorm:"column:status;type:text;not null"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrganizationMembership) TableName() string { return "organization_memberships" }

func (m *OrganizationMembership) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
