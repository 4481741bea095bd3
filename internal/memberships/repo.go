package memberships

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/repo"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
)

// Repository exposes organization membership persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// GetMembership retrieves a membership by user and organization.
func (r *Repository) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*models.OrganizationMembership, error) {
	var membership models.OrganizationMembership
	err := r.DB(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// IsActiveMember reports whether the user currently holds an active membership
// in the organization. Invited and removed members are not members.
func (r *Repository) IsActiveMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.OrganizationMembership{}).
		Where("user_id = ? AND organization_id = ? AND status = ?", userID, orgID, enums.MembershipStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateMembership persists a new membership record.
func (r *Repository) CreateMembership(ctx context.Context, orgID, userID uuid.UUID, role enums.MemberRole, status enums.MembershipStatus) (*models.OrganizationMembership, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid member role %q", role)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid membership status %q", status)
	}

	membership := &models.OrganizationMembership{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		Status:         status,
	}
	if err := r.DB(ctx).Create(membership).Error; err != nil {
		return nil, err
	}
	return membership, nil
}

// UpdateStatus moves a membership to a new status.
func (r *Repository) UpdateStatus(ctx context.Context, orgID, userID uuid.UUID, status enums.MembershipStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid membership status %q", status)
	}
	res := r.DB(ctx).
		Model(&models.OrganizationMembership{}).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetOrganization loads an organization by id.
func (r *Repository) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := r.DB(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateOrganization inserts an organization.
func (r *Repository) CreateOrganization(ctx context.Context, name, billingEmail string) (*models.Organization, error) {
	if name == "" || billingEmail == "" {
		return nil, errors.New("organization name and billing email are required")
	}
	org := &models.Organization{Name: name, BillingEmail: billingEmail}
	if err := r.DB(ctx).Create(org).Error; err != nil {
		return nil, err
	}
	return org, nil
}
