package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	"github.com/bountyhub/escrow/pkg/logger"
)

const DefaultGraceFailedAttempts = 3

// ErrUnknownPrincipal marks a subscription event that names no usable owner.
var ErrUnknownPrincipal = errors.New("subscription event does not identify a principal")

type planRepository interface {
	FindBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) (*models.MembershipPlan, error)
	FindByPrincipal(ctx context.Context, tx *gorm.DB, principalID uuid.UUID) (*models.MembershipPlan, error)
	Create(ctx context.Context, tx *gorm.DB, row *models.MembershipPlan) error
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	DowngradeLapsed(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	RecordCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string, principalID *uuid.UUID, at time.Time) error
	IsCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string) (bool, error)
}

// Service applies recurring-billing webhooks to membership plans. Every
// handler runs on the reconciler's transaction.
type Service interface {
	OnRecurringChargeFailed(ctx context.Context, tx *gorm.DB, subscriptionID string, attemptCount int) error
	OnRecurringChargeSucceeded(ctx context.Context, tx *gorm.DB, subscriptionID string, periodEnd *time.Time) error
	OnSubscriptionCreated(ctx context.Context, tx *gorm.DB, event SubscriptionEvent) error
	OnSubscriptionCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string) error
	DowngradeLapsed(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, principalID uuid.UUID) (*models.MembershipPlan, error)
}

type SubscriptionEvent struct {
	SubscriptionID string
	PrincipalID    uuid.UUID
	PeriodEnd      *time.Time
}

type ServiceParams struct {
	Repo          planRepository
	Notifications notifications.Service
	Logger        *logger.Logger
	// GraceFailedAttempts is the failed-charge count that moves pro to past_due.
	GraceFailedAttempts int
	// ExpiryGrace is how long past expires_at a plan stays paid without renewal.
	ExpiryGrace time.Duration
}

type service struct {
	repo        planRepository
	notify      notifications.Service
	logg        *logger.Logger
	threshold   int
	expiryGrace time.Duration
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	threshold := params.GraceFailedAttempts
	if threshold <= 0 {
		threshold = DefaultGraceFailedAttempts
	}
	return &service{
		repo:        params.Repo,
		notify:      params.Notifications,
		logg:        params.Logger,
		threshold:   threshold,
		expiryGrace: params.ExpiryGrace,
	}, nil
}

// OnRecurringChargeFailed keeps access until the processor reports the
// threshold-th failed attempt. A missing attempt count counts as one more failure.
func (s *service) OnRecurringChargeFailed(ctx context.Context, tx *gorm.DB, subscriptionID string, attemptCount int) error {
	plan, logCtx, err := s.bySubscription(ctx, tx, subscriptionID)
	if err != nil || plan == nil {
		return err
	}

	failures := attemptCount
	if failures <= 0 {
		failures = plan.FailedChargeCount + 1
	}
	if failures < plan.FailedChargeCount {
		failures = plan.FailedChargeCount
	}

	fields := map[string]any{
		"failed_charge_count": failures,
		"last_failed_at":      time.Now().UTC(),
	}
	pastDue := failures >= s.threshold && plan.Plan == enums.PlanPro
	if pastDue {
		fields["plan"] = enums.PlanPastDue
	}
	if err := s.repo.Update(ctx, tx, plan.ID, fields); err != nil {
		return err
	}

	logCtx = s.logg.WithFields(logCtx, map[string]any{"attempt_count": failures, "threshold": s.threshold})
	if !pastDue {
		s.logg.Info(logCtx, "recurring charge failed within grace period")
		return nil
	}
	s.logg.Warn(logCtx, "membership plan moved to past_due")
	return s.notify.Request(ctx, tx, notifications.Request{PrincipalID: plan.PrincipalID, Kind: enums.NotificationPlanPastDue})
}

// OnRecurringChargeSucceeded renews pro with the processor's period end.
func (s *service) OnRecurringChargeSucceeded(ctx context.Context, tx *gorm.DB, subscriptionID string, periodEnd *time.Time) error {
	plan, logCtx, err := s.bySubscription(ctx, tx, subscriptionID)
	if err != nil || plan == nil {
		return err
	}
	if err := s.repo.Update(ctx, tx, plan.ID, activeFields(subscriptionID, periodEnd)); err != nil {
		return err
	}
	s.logg.Info(logCtx, "membership plan renewed")
	return nil
}

// OnSubscriptionCreated binds the subscription to its owner and enters pro.
func (s *service) OnSubscriptionCreated(ctx context.Context, tx *gorm.DB, event SubscriptionEvent) error {
	subscriptionID := strings.TrimSpace(event.SubscriptionID)
	if subscriptionID == "" {
		return fmt.Errorf("%w: missing subscription id", ErrUnknownPrincipal)
	}

	logCtx := s.logg.WithField(ctx, "subscription_id", subscriptionID)
	canceled, err := s.repo.IsCanceled(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if canceled {
		s.logg.Warn(logCtx, "plans.subscription_already_canceled")
		return nil
	}

	existing, err := s.repo.FindBySubscription(ctx, tx, subscriptionID)
	if err != nil && !db.IsNotFound(err) {
		return err
	}
	if existing == nil && event.PrincipalID != uuid.Nil {
		existing, err = s.repo.FindByPrincipal(ctx, tx, event.PrincipalID)
		if err != nil && !db.IsNotFound(err) {
			return err
		}
	}

	if existing != nil {
		if err := s.repo.Update(ctx, tx, existing.ID, activeFields(subscriptionID, event.PeriodEnd)); err != nil {
			return err
		}
		s.logg.Info(logCtx, "membership plan activated")
		return nil
	}

	if event.PrincipalID == uuid.Nil {
		return fmt.Errorf("%w: subscription %s", ErrUnknownPrincipal, subscriptionID)
	}
	sub := subscriptionID
	row := &models.MembershipPlan{
		PrincipalID:    event.PrincipalID,
		Plan:           enums.PlanPro,
		SubscriptionID: &sub,
		ExpiresAt:      event.PeriodEnd,
	}
	if err := s.repo.Create(ctx, tx, row); err != nil {
		return err
	}
	s.logg.Info(logCtx, "membership plan created")
	return nil
}

// OnSubscriptionCanceled returns the owner to free. Free is free: a missing
// plan is logged and acknowledged. The cancellation is remembered either way
// so a late subscription.created cannot resurrect it.
func (s *service) OnSubscriptionCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string) error {
	plan, logCtx, err := s.bySubscription(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if id := strings.TrimSpace(subscriptionID); id != "" {
		var owner *uuid.UUID
		if plan != nil {
			owner = &plan.PrincipalID
		}
		if err := s.repo.RecordCanceled(ctx, tx, id, owner, time.Now().UTC()); err != nil {
			return err
		}
	}
	if plan == nil {
		return nil
	}
	err = s.repo.Update(ctx, tx, plan.ID, map[string]any{
		"plan":                enums.PlanFree,
		"subscription_id":     nil,
		"expires_at":          nil,
		"failed_charge_count": 0,
	})
	if err != nil {
		return err
	}
	s.logg.Info(logCtx, "membership plan canceled")
	return s.notify.Request(ctx, tx, notifications.Request{PrincipalID: plan.PrincipalID, Kind: enums.NotificationPlanCanceled})
}

// DowngradeLapsed is run by the scheduler for plans whose renewal never arrived.
func (s *service) DowngradeLapsed(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DowngradeLapsed(ctx, nil, now.Add(-s.expiryGrace))
}

// Get returns a free placeholder for principals without a plan row.
func (s *service) Get(ctx context.Context, principalID uuid.UUID) (*models.MembershipPlan, error) {
	plan, err := s.repo.FindByPrincipal(ctx, nil, principalID)
	if err != nil {
		if db.IsNotFound(err) {
			return &models.MembershipPlan{PrincipalID: principalID, Plan: enums.PlanFree}, nil
		}
		return nil, err
	}
	return plan, nil
}

func (s *service) bySubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) (*models.MembershipPlan, context.Context, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	logCtx := s.logg.WithField(ctx, "subscription_id", subscriptionID)
	if subscriptionID == "" {
		s.logg.Warn(logCtx, "plans.subscription_id_missing")
		return nil, logCtx, nil
	}
	plan, err := s.repo.FindBySubscription(ctx, tx, subscriptionID)
	if err != nil {
		if db.IsNotFound(err) {
			s.logg.Warn(logCtx, "plans.subscription_unknown")
			return nil, logCtx, nil
		}
		return nil, logCtx, err
	}
	return plan, s.logg.WithField(logCtx, "principal_id", plan.PrincipalID.String()), nil
}

func activeFields(subscriptionID string, periodEnd *time.Time) map[string]any {
	fields := map[string]any{
		"plan":                enums.PlanPro,
		"subscription_id":     subscriptionID,
		"failed_charge_count": 0,
		"last_failed_at":      nil,
	}
	if periodEnd != nil {
		fields["expires_at"] = periodEnd.UTC()
	}
	return fields
}
