package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

var validate = validator.New()

// Principal is the party money is collected from or paid to.
type Principal struct {
	ID    uuid.UUID
	Type  enums.PrincipalType
	Email string
}

type identityRepository interface {
	FindByPrincipal(ctx context.Context, tx *gorm.DB, principalID uuid.UUID) (*models.BillingIdentity, error)
	Insert(ctx context.Context, row *models.BillingIdentity) error
	SetIfEmpty(ctx context.Context, principalID uuid.UUID, column, value string) (int64, error)
	UpdateCapability(ctx context.Context, tx *gorm.DB, accountID string, transfersEnabled, detailsSubmitted bool) (int64, error)
	ClearPayoutAccount(ctx context.Context, principalID uuid.UUID) (int64, error)
}

// Service resolves and caches processor identities per principal.
type Service interface {
	ResolveCustomer(ctx context.Context, principal Principal) (string, error)
	ResolvePayoutAccount(ctx context.Context, principal Principal) (string, error)
	CreateOnboardingLink(ctx context.Context, principal Principal) (*processor.OnboardingLink, error)
	SetPayoutCapability(ctx context.Context, tx *gorm.DB, accountID string, transfersEnabled, detailsSubmitted bool) (bool, error)
	DisconnectPayoutAccount(ctx context.Context, principalID uuid.UUID) error
	Get(ctx context.Context, principalID uuid.UUID) (*models.BillingIdentity, error)
}

type ServiceParams struct {
	Repo       identityRepository
	Processor  processor.Client
	Logger     *logger.Logger
	RefreshURL string
	ReturnURL  string
}

type service struct {
	repo       identityRepository
	processor  processor.Client
	logg       *logger.Logger
	refreshURL string
	returnURL  string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("identity repo required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor client required")
	}
	return &service{
		repo:       params.Repo,
		processor:  params.Processor,
		logg:       params.Logger,
		refreshURL: strings.TrimSpace(params.RefreshURL),
		returnURL:  strings.TrimSpace(params.ReturnURL),
	}, nil
}

// ResolveCustomer returns the principal's processor customer id, creating it
// on first use. Concurrent first calls converge on a single stored id.
func (s *service) ResolveCustomer(ctx context.Context, principal Principal) (string, error) {
	return s.resolve(ctx, principal, columnCustomerID, func(ctx context.Context) (string, error) {
		customer, err := s.processor.CreateCustomer(ctx, processor.CustomerParams{
			Email:          principal.Email,
			PrincipalID:    principal.ID.String(),
			PrincipalType:  string(principal.Type),
			IdempotencyKey: "customer:" + principal.ID.String(),
		})
		if err != nil {
			return "", err
		}
		return customer.ID, nil
	})
}

// ResolvePayoutAccount returns the principal's payout account id. A new
// account cannot receive transfers until the processor reports the capability.
func (s *service) ResolvePayoutAccount(ctx context.Context, principal Principal) (string, error) {
	return s.resolve(ctx, principal, columnPayoutAccountID, func(ctx context.Context) (string, error) {
		account, err := s.processor.CreatePayoutAccount(ctx, processor.PayoutAccountParams{
			Email:          principal.Email,
			PrincipalID:    principal.ID.String(),
			PrincipalType:  string(principal.Type),
			IdempotencyKey: "payout_account:" + principal.ID.String(),
		})
		if err != nil {
			return "", err
		}
		return account.ID, nil
	})
}

func (s *service) resolve(ctx context.Context, principal Principal, column string, create func(context.Context) (string, error)) (string, error) {
	if err := validatePrincipal(principal); err != nil {
		return "", err
	}

	existing, err := s.repo.FindByPrincipal(ctx, nil, principal.ID)
	if err != nil && !db.IsNotFound(err) {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing identity")
	}
	if current := mappedID(existing, column); current != "" {
		return current, nil
	}

	created, err := create(ctx)
	if err != nil {
		return "", processor.Classify(err, "billing identity rejected by processor")
	}

	if existing == nil {
		row := &models.BillingIdentity{PrincipalID: principal.ID, PrincipalType: principal.Type}
		assign(row, column, created)
		err := s.repo.Insert(ctx, row)
		if err == nil {
			s.logCreated(ctx, principal, column, created)
			return created, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist billing identity")
		}
	}

	affected, err := s.repo.SetIfEmpty(ctx, principal.ID, column, created)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist billing identity")
	}
	if affected > 0 {
		s.logCreated(ctx, principal, column, created)
		return created, nil
	}

	winner, err := s.repo.FindByPrincipal(ctx, nil, principal.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload billing identity")
	}
	id := mappedID(winner, column)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "billing identity not persisted")
	}
	if id != created && s.logg != nil {
		warnCtx := s.logg.WithFields(ctx, map[string]any{"principal_id": principal.ID.String(), "orphaned_id": created, "kept_id": id})
		s.logg.Warn(warnCtx, "billing.identity_orphaned")
	}
	return id, nil
}

// CreateOnboardingLink ensures a payout account and returns a one-time setup URL.
func (s *service) CreateOnboardingLink(ctx context.Context, principal Principal) (*processor.OnboardingLink, error) {
	accountID, err := s.ResolvePayoutAccount(ctx, principal)
	if err != nil {
		return nil, err
	}
	link, err := s.processor.CreateOnboardingLink(ctx, processor.OnboardingLinkParams{
		AccountID:  accountID,
		RefreshURL: s.refreshURL,
		ReturnURL:  s.returnURL,
	})
	if err != nil {
		return nil, processor.Classify(err, "onboarding link rejected by processor")
	}
	return link, nil
}

// SetPayoutCapability applies a processor capability report. It returns false
// when no principal owns accountID.
func (s *service) SetPayoutCapability(ctx context.Context, tx *gorm.DB, accountID string, transfersEnabled, detailsSubmitted bool) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	affected, err := s.repo.UpdateCapability(ctx, tx, accountID, transfersEnabled, detailsSubmitted)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *service) DisconnectPayoutAccount(ctx context.Context, principalID uuid.UUID) error {
	affected, err := s.repo.ClearPayoutAccount(ctx, principalID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disconnect payout account")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "billing identity not found")
	}
	return nil
}

// Get returns nil without error when the principal has no mapping yet.
func (s *service) Get(ctx context.Context, principalID uuid.UUID) (*models.BillingIdentity, error) {
	row, err := s.repo.FindByPrincipal(ctx, nil, principalID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing identity")
	}
	return row, nil
}

func (s *service) logCreated(ctx context.Context, principal Principal, column, id string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithPrincipal(ctx, principal.ID.String(), string(principal.Type))
	s.logg.Info(s.logg.WithField(ctx, column, id), "billing identity mapped")
}

func validatePrincipal(principal Principal) error {
	if principal.ID == uuid.Nil || !principal.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid billing identity")
	}
	if err := validate.Var(principal.Email, "required,email"); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing identity")
	}
	return nil
}

func mappedID(row *models.BillingIdentity, column string) string {
	if row == nil {
		return ""
	}
	var value *string
	switch column {
	case columnCustomerID:
		value = row.CustomerID
	case columnPayoutAccountID:
		value = row.PayoutAccountID
	}
	if value == nil {
		return ""
	}
	return *value
}

func assign(row *models.BillingIdentity, column, id string) {
	switch column {
	case columnCustomerID:
		row.CustomerID = &id
	case columnPayoutAccountID:
		row.PayoutAccountID = &id
	}
}
