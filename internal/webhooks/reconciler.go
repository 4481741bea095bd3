package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/funding"
	"github.com/bountyhub/escrow/internal/plans"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/metrics"
)

// Outcome is what happened to one delivery; it doubles as the metrics label.
type Outcome string

const (
	OutcomeApplied          Outcome = metrics.WebhookOutcomeApplied
	OutcomeDuplicate        Outcome = metrics.WebhookOutcomeDuplicate
	OutcomeIgnored          Outcome = metrics.WebhookOutcomeIgnored
	OutcomeSignatureInvalid Outcome = metrics.WebhookOutcomeSignatureInvalid
	OutcomeMalformed        Outcome = metrics.WebhookOutcomeMalformed
	OutcomeFailed           Outcome = metrics.WebhookOutcomeFailed
)

type eventRepository interface {
	Claim(ctx context.Context, tx *gorm.DB, eventID, eventType string, source enums.WebhookSource, at time.Time) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, eventID, eventType string, source enums.WebhookSource, reason string, at time.Time) error
}

type intentHandler interface {
	OnIntentSucceeded(ctx context.Context, tx *gorm.DB, event funding.IntentEvent) error
	OnIntentFailed(ctx context.Context, tx *gorm.DB, event funding.IntentEvent) error
	OnIntentCanceled(ctx context.Context, tx *gorm.DB, event funding.IntentEvent) error
}

type planHandler interface {
	OnRecurringChargeFailed(ctx context.Context, tx *gorm.DB, subscriptionID string, attemptCount int) error
	OnRecurringChargeSucceeded(ctx context.Context, tx *gorm.DB, subscriptionID string, periodEnd *time.Time) error
	OnSubscriptionCreated(ctx context.Context, tx *gorm.DB, event plans.SubscriptionEvent) error
	OnSubscriptionCanceled(ctx context.Context, tx *gorm.DB, subscriptionID string) error
}

type capabilitySetter interface {
	SetPayoutCapability(ctx context.Context, tx *gorm.DB, accountID string, transfersEnabled, detailsSubmitted bool) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ReconcilerParams struct {
	Repo       eventRepository
	TxRunner   txRunner
	Funding    intentHandler
	Plans      planHandler
	Identities capabilitySetter
	Metrics    *metrics.WebhookMetrics
	Logger     *logger.Logger
	// SigningSecret verifies X-Signature on the signed endpoint.
	SigningSecret string
	// StripeSigningSecret verifies Stripe-Signature; empty disables the route.
	StripeSigningSecret string
	Now                 func() time.Time
}

// Reconciler applies verified processor events exactly once.
type Reconciler struct {
	repo         eventRepository
	tx           txRunner
	funding      intentHandler
	plans        planHandler
	identities   capabilitySetter
	metrics      *metrics.WebhookMetrics
	logg         *logger.Logger
	secret       string
	stripeSecret string
	now          func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repo required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Funding == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "funding service required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plans service required")
	}
	if params.Identities == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "identity service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		repo:         params.Repo,
		tx:           params.TxRunner,
		funding:      params.Funding,
		plans:        params.Plans,
		identities:   params.Identities,
		metrics:      params.Metrics,
		logg:         params.Logger,
		secret:       params.SigningSecret,
		stripeSecret: strings.TrimSpace(params.StripeSigningSecret),
		now:          now,
	}, nil
}

// HandleSigned verifies an X-Signature delivery over the raw body, then applies it.
func (r *Reconciler) HandleSigned(ctx context.Context, body []byte, signature string) (Outcome, error) {
	source := enums.WebhookSourceSigned
	if err := Verify(r.secret, body, signature); err != nil {
		return r.rejectSignature(ctx, source, err)
	}
	event, err := Parse(body)
	if err != nil {
		return r.rejectMalformed(ctx, source, err)
	}
	return r.Apply(ctx, source, event)
}

// Apply dedups and dispatches one verified event. The marker, the handler's
// effects and processed_at commit together or not at all.
func (r *Reconciler) Apply(ctx context.Context, source enums.WebhookSource, event *Event) (Outcome, error) {
	if event == nil {
		return r.rejectMalformed(ctx, source, ErrMalformed)
	}
	started := time.Now()
	defer func() { r.metrics.ObserveDuration(string(source), time.Since(started)) }()

	ctx = r.logg.WithFields(ctx, map[string]any{
		"webhook_source": string(source),
		"event_id":       event.ID,
		"event":          event.Name,
	})

	outcome := OutcomeApplied
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		marker, err := r.repo.Claim(ctx, tx, event.ID, event.Name, source, r.now())
		if err != nil {
			return fmt.Errorf("claim event: %w", err)
		}
		if marker.ProcessedAt != nil {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome, err = r.dispatch(ctx, tx, event)
		if err != nil {
			return err
		}
		return r.repo.MarkProcessed(ctx, tx, marker.ID, r.now())
	})
	if err != nil {
		if recErr := r.repo.RecordFailure(ctx, event.ID, event.Name, source, err.Error(), r.now()); recErr != nil {
			r.logg.Error(ctx, "webhook.failure_not_recorded", recErr)
		}
		r.logg.Error(ctx, "webhook.apply_failed", err)
		r.metrics.Observe(string(source), string(event.Kind), string(OutcomeFailed))
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply webhook event")
	}

	r.metrics.Observe(string(source), string(event.Kind), string(outcome))
	r.logg.Info(ctx, "webhook."+string(outcome))
	return outcome, nil
}

func (r *Reconciler) dispatch(ctx context.Context, tx *gorm.DB, event *Event) (Outcome, error) {
	data := event.Data
	switch event.Kind {
	case KindIntentSucceeded, KindIntentFailed, KindIntentCanceled:
		intent := funding.IntentEvent{
			IntentID:         data.ObjectID,
			AmountMinorUnits: data.AmountMinorUnits,
			Currency:         data.Currency,
			Metadata:         data.Metadata,
			FailureReason:    data.FailureReason,
		}
		var err error
		switch event.Kind {
		case KindIntentSucceeded:
			err = r.funding.OnIntentSucceeded(ctx, tx, intent)
		case KindIntentFailed:
			err = r.funding.OnIntentFailed(ctx, tx, intent)
		default:
			err = r.funding.OnIntentCanceled(ctx, tx, intent)
		}
		switch {
		case errors.Is(err, funding.ErrInvalidMetadata):
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook.metadata_invalid")
			return OutcomeIgnored, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyTerminal):
			return OutcomeIgnored, nil
		case err != nil:
			return OutcomeFailed, err
		}
		return OutcomeApplied, nil

	case KindRecurringChargeFailed:
		if data.SubscriptionID == "" {
			return r.ignoreMissing(ctx, "subscription id")
		}
		return OutcomeApplied, r.plans.OnRecurringChargeFailed(ctx, tx, data.SubscriptionID, data.AttemptCount)

	case KindRecurringChargeSucceeded:
		if data.SubscriptionID == "" {
			return r.ignoreMissing(ctx, "subscription id")
		}
		return OutcomeApplied, r.plans.OnRecurringChargeSucceeded(ctx, tx, data.SubscriptionID, data.PeriodEnd)

	case KindSubscriptionCreated:
		err := r.plans.OnSubscriptionCreated(ctx, tx, plans.SubscriptionEvent{
			SubscriptionID: data.SubscriptionID,
			PrincipalID:    subscriptionOwner(data),
			PeriodEnd:      data.PeriodEnd,
		})
		if errors.Is(err, plans.ErrUnknownPrincipal) {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook.metadata_invalid")
			return OutcomeIgnored, nil
		}
		return OutcomeApplied, err

	case KindSubscriptionCanceled:
		if data.SubscriptionID == "" {
			return r.ignoreMissing(ctx, "subscription id")
		}
		return OutcomeApplied, r.plans.OnSubscriptionCanceled(ctx, tx, data.SubscriptionID)

	case KindPayoutAccountUpdated:
		if data.AccountID == "" {
			return r.ignoreMissing(ctx, "account id")
		}
		known, err := r.identities.SetPayoutCapability(ctx, tx, data.AccountID, data.TransfersEnabled, data.DetailsSubmitted)
		if err != nil {
			return OutcomeFailed, err
		}
		if !known {
			r.logg.Warn(r.logg.WithField(ctx, "account_id", data.AccountID), "webhook.payout_account_unknown")
			return OutcomeIgnored, nil
		}
		return OutcomeApplied, nil

	default:
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) ignoreMissing(ctx context.Context, field string) (Outcome, error) {
	r.logg.Warn(r.logg.WithField(ctx, "missing", field), "webhook.metadata_invalid")
	return OutcomeIgnored, nil
}

func (r *Reconciler) rejectSignature(ctx context.Context, source enums.WebhookSource, err error) (Outcome, error) {
	r.logg.Warn(r.logg.WithField(ctx, "webhook_source", string(source)), "webhook.signature_invalid")
	r.metrics.Observe(string(source), string(KindUnknown), string(OutcomeSignatureInvalid))
	return OutcomeSignatureInvalid, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "invalid webhook signature")
}

func (r *Reconciler) rejectMalformed(ctx context.Context, source enums.WebhookSource, err error) (Outcome, error) {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"webhook_source": string(source),
		"error":          err.Error(),
	}), "webhook.malformed")
	r.metrics.Observe(string(source), string(KindUnknown), string(OutcomeMalformed))
	return OutcomeMalformed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
}

// subscriptionOwner prefers the explicit principalId, then metadata.
func subscriptionOwner(data EventData) uuid.UUID {
	for _, raw := range []string{data.PrincipalID, data.Metadata[processor.MetadataPrincipalID]} {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			return id
		}
	}
	return uuid.Nil
}
