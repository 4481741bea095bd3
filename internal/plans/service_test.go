package plans

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/pkg/db/dbtest"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	"github.com/bountyhub/escrow/pkg/logger"
)

type stubNotifier struct {
	requests []notifications.Request
}

func (s *stubNotifier) Request(ctx context.Context, tx *gorm.DB, req notifications.Request) error {
	s.requests = append(s.requests, req)
	return nil
}

func newTestService(t *testing.T) (Service, *Repository, *stubNotifier, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	notifier := &stubNotifier{}
	svc, err := NewService(ServiceParams{
		Repo:          repo,
		Notifications: notifier,
		Logger:        logger.New(logger.Options{ServiceName: "plans-test", Output: io.Discard}),
		ExpiryGrace:   72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo, notifier, conn
}

func seedPro(t *testing.T, conn *gorm.DB, subscriptionID string, expires time.Time) *models.MembershipPlan {
	t.Helper()
	sub := subscriptionID
	plan := &models.MembershipPlan{
		PrincipalID:    uuid.New(),
		Plan:           enums.PlanPro,
		SubscriptionID: &sub,
		ExpiresAt:      &expires,
	}
	if err := conn.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func TestGracePeriodThreshold(t *testing.T) {
	svc, repo, notifier, conn := newTestService(t)
	ctx := context.Background()
	seeded := seedPro(t, conn, "sub_1", time.Now().Add(24*time.Hour))

	for attempt := 1; attempt <= 2; attempt++ {
		if err := svc.OnRecurringChargeFailed(ctx, conn, "sub_1", attempt); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		plan, err := repo.FindByPrincipal(ctx, nil, seeded.PrincipalID)
		if err != nil {
			t.Fatalf("load plan: %v", err)
		}
		if plan.Plan != enums.PlanPro {
			t.Fatalf("attempt %d: expected pro, got %s", attempt, plan.Plan)
		}
		if plan.FailedChargeCount != attempt {
			t.Fatalf("attempt %d: expected failure count recorded, got %d", attempt, plan.FailedChargeCount)
		}
	}
	if len(notifier.requests) != 0 {
		t.Fatalf("no notification inside the grace period")
	}

	if err := svc.OnRecurringChargeFailed(ctx, conn, "sub_1", 3); err != nil {
		t.Fatalf("attempt 3: %v", err)
	}
	plan, _ := repo.FindByPrincipal(ctx, nil, seeded.PrincipalID)
	if plan.Plan != enums.PlanPastDue {
		t.Fatalf("expected past_due, got %s", plan.Plan)
	}
	if len(notifier.requests) != 1 || notifier.requests[0].Kind != enums.NotificationPlanPastDue {
		t.Fatalf("expected past_due notification, got %+v", notifier.requests)
	}
}

func TestStaleFailureCountNeverLowersTally(t *testing.T) {
	svc, repo, _, conn := newTestService(t)
	ctx := context.Background()
	seeded := seedPro(t, conn, "sub_2", time.Now().Add(time.Hour))

	_ = svc.OnRecurringChargeFailed(ctx, conn, "sub_2", 2)
	_ = svc.OnRecurringChargeFailed(ctx, conn, "sub_2", 1)

	plan, _ := repo.FindByPrincipal(ctx, nil, seeded.PrincipalID)
	if plan.FailedChargeCount != 2 {
		t.Fatalf("expected count to stay at 2, got %d", plan.FailedChargeCount)
	}
	if err := svc.OnRecurringChargeFailed(ctx, conn, "sub_2", 0); err != nil {
		t.Fatalf("missing attempt count: %v", err)
	}
	plan, _ = repo.FindByPrincipal(ctx, nil, seeded.PrincipalID)
	if plan.Plan != enums.PlanPastDue {
		t.Fatalf("missing count increments the tally to the threshold, got %s", plan.Plan)
	}
}

func TestUnknownSubscriptionIsAcknowledged(t *testing.T) {
	svc, _, notifier, conn := newTestService(t)
	ctx := context.Background()
	if err := svc.OnRecurringChargeFailed(ctx, conn, "sub_missing", 5); err != nil {
		t.Fatalf("unknown subscription must not error: %v", err)
	}
	if err := svc.OnSubscriptionCanceled(ctx, conn, "sub_missing"); err != nil {
		t.Fatalf("unknown cancellation must not error: %v", err)
	}
	if len(notifier.requests) != 0 {
		t.Fatalf("no notifications for unknown subscriptions")
	}
}

func TestSubscriptionCanceledClearsPlan(t *testing.T) {
	svc, repo, notifier, conn := newTestService(t)
	ctx := context.Background()
	seeded := seedPro(t, conn, "sub_3", time.Now().Add(time.Hour))

	if err := svc.OnSubscriptionCanceled(ctx, conn, "sub_3"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	plan, _ := repo.FindByPrincipal(ctx, nil, seeded.PrincipalID)
	if plan.Plan != enums.PlanFree || plan.SubscriptionID != nil || plan.ExpiresAt != nil {
		t.Fatalf("expected cleared free plan, got %+v", plan)
	}
	if len(notifier.requests) != 1 {
		t.Fatalf("expected cancellation notification")
	}

	if err := svc.OnSubscriptionCanceled(ctx, conn, "sub_3"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestCancelBeforeCreateKeepsPlanFree(t *testing.T) {
	svc, repo, _, conn := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	if err := svc.OnSubscriptionCanceled(ctx, conn, "sub_late"); err != nil {
		t.Fatalf("early cancel: %v", err)
	}
	canceled, err := repo.IsCanceled(ctx, conn, "sub_late")
	if err != nil || !canceled {
		t.Fatalf("expected cancellation marker, got %v %v", canceled, err)
	}

	err = svc.OnSubscriptionCreated(ctx, conn, SubscriptionEvent{SubscriptionID: "sub_late", PrincipalID: owner, PeriodEnd: &periodEnd})
	if err != nil {
		t.Fatalf("late create: %v", err)
	}
	plan, err := svc.Get(ctx, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if plan.Plan != enums.PlanFree {
		t.Fatalf("late create must not reactivate a canceled subscription, got %s", plan.Plan)
	}

	if err := svc.OnSubscriptionCreated(ctx, conn, SubscriptionEvent{SubscriptionID: "sub_next", PrincipalID: owner, PeriodEnd: &periodEnd}); err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	plan, _ = svc.Get(ctx, owner)
	if plan.Plan != enums.PlanPro {
		t.Fatalf("a fresh subscription should activate, got %s", plan.Plan)
	}
}

func TestSubscriptionCreatedAndRenewed(t *testing.T) {
	svc, repo, _, conn := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	if err := svc.OnSubscriptionCreated(ctx, conn, SubscriptionEvent{SubscriptionID: "sub_4", PrincipalID: owner, PeriodEnd: &periodEnd}); err != nil {
		t.Fatalf("created: %v", err)
	}
	plan, err := repo.FindBySubscription(ctx, nil, "sub_4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if plan.Plan != enums.PlanPro || plan.PrincipalID != owner {
		t.Fatalf("unexpected plan %+v", plan)
	}

	_ = svc.OnRecurringChargeFailed(ctx, conn, "sub_4", 3)
	next := periodEnd.Add(30 * 24 * time.Hour)
	if err := svc.OnRecurringChargeSucceeded(ctx, conn, "sub_4", &next); err != nil {
		t.Fatalf("renewed: %v", err)
	}
	plan, _ = repo.FindBySubscription(ctx, nil, "sub_4")
	if plan.Plan != enums.PlanPro || plan.FailedChargeCount != 0 {
		t.Fatalf("expected renewed pro plan, got %+v", plan)
	}
	if plan.ExpiresAt == nil || !plan.ExpiresAt.Equal(next) {
		t.Fatalf("expected expiry %s, got %v", next, plan.ExpiresAt)
	}
}

func TestSubscriptionCreatedWithoutOwner(t *testing.T) {
	svc, _, _, conn := newTestService(t)
	err := svc.OnSubscriptionCreated(context.Background(), conn, SubscriptionEvent{SubscriptionID: "sub_orphan"})
	if !errors.Is(err, ErrUnknownPrincipal) {
		t.Fatalf("expected ErrUnknownPrincipal, got %v", err)
	}
}

func TestDowngradeLapsed(t *testing.T) {
	svc, repo, _, conn := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	lapsed := seedPro(t, conn, "sub_old", now.Add(-96*time.Hour))
	recent := seedPro(t, conn, "sub_recent", now.Add(-24*time.Hour))

	n, err := svc.DowngradeLapsed(ctx, now)
	if err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one downgrade, got %d", n)
	}
	plan, _ := repo.FindByPrincipal(ctx, nil, lapsed.PrincipalID)
	if plan.Plan != enums.PlanFree {
		t.Fatalf("expected lapsed plan to be free, got %s", plan.Plan)
	}
	plan, _ = repo.FindByPrincipal(ctx, nil, recent.PrincipalID)
	if plan.Plan != enums.PlanPro {
		t.Fatalf("plan inside the expiry grace must stay pro, got %s", plan.Plan)
	}
}

func TestGetDefaultsToFree(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	plan, err := svc.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if plan.Plan != enums.PlanFree {
		t.Fatalf("expected free, got %s", plan.Plan)
	}
}
