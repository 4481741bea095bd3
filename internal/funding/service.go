package funding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/metrics"
)

// ErrInvalidMetadata marks an intent event whose metadata cannot identify a
// bounty. Redelivery cannot fix it, so the reconciler acknowledges it.
var ErrInvalidMetadata = errors.New("intent metadata does not identify a bounty")

var validate = validator.New()

type fundingRepository interface {
	FindBounty(ctx context.Context, tx *gorm.DB, bountyID string) (*models.BountyFunding, error)
	EnsureBounty(ctx context.Context, tx *gorm.DB, bountyID string) error
	HoldBounty(ctx context.Context, tx *gorm.DB, bountyID, intentID string, principalID uuid.UUID, amount int64, currency string, at time.Time) (int64, error)
	ReleaseBounty(ctx context.Context, tx *gorm.DB, bountyID string, at time.Time) (int64, error)
	RefundBounty(ctx context.Context, tx *gorm.DB, bountyID string, at time.Time) (int64, error)
	FindIntent(ctx context.Context, tx *gorm.DB, intentID string) (*models.FundingIntent, error)
	HasSucceededIntent(ctx context.Context, tx *gorm.DB, bountyID string) (bool, error)
	InsertIntent(ctx context.Context, tx *gorm.DB, row *models.FundingIntent) error
	MarkIntentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error
	MarkIntentClosed(ctx context.Context, tx *gorm.DB, intentID string, status enums.FundingIntentStatus, reason *string) (int64, error)
	ClaimSettlement(ctx context.Context, tx *gorm.DB, row *models.Settlement) error
	FindLiveSettlement(ctx context.Context, tx *gorm.DB, bountyID string) (*models.Settlement, error)
	FinishSettlement(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.SettlementStatus, ref, reason *string) (int64, error)
}

type identityResolver interface {
	ResolveCustomer(ctx context.Context, principal identity.Principal) (string, error)
	Get(ctx context.Context, principalID uuid.UUID) (*models.BillingIdentity, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the funding intent manager and the only writer of bounty funding state.
type Service interface {
	CreateFundingIntent(ctx context.Context, input CreateIntentInput) (*IntentResult, error)
	OnIntentSucceeded(ctx context.Context, tx *gorm.DB, event IntentEvent) error
	OnIntentFailed(ctx context.Context, tx *gorm.DB, event IntentEvent) error
	OnIntentCanceled(ctx context.Context, tx *gorm.DB, event IntentEvent) error
	ReleaseToSolver(ctx context.Context, input ReleaseInput) (*models.Settlement, error)
	CancelFunding(ctx context.Context, input CancelInput) (*models.Settlement, error)
	GetFundingState(ctx context.Context, bountyID string) (enums.FundingState, error)
}

// StateReader is the collaborator view handed to the bounty lifecycle.
type StateReader interface {
	GetFundingState(ctx context.Context, bountyID string) (enums.FundingState, error)
}

type CreateIntentInput struct {
	BountyID         string
	AmountMinorUnits int64
	Currency         string
	Principal        identity.Principal
	// Nonce distinguishes deliberate retries from accidental duplicates.
	Nonce string
}

type IntentResult struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

// IntentEvent is the reconciler's view of a processor intent notification.
type IntentEvent struct {
	IntentID         string
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
	FailureReason    string
}

// ReleaseInput moves the whole held amount; CallerPrincipalID must be the funder.
type ReleaseInput struct {
	BountyID          string
	CallerPrincipalID uuid.UUID
	SolverPrincipalID uuid.UUID
	AmountMinorUnits  int64
}

type CancelInput struct {
	BountyID          string
	CallerPrincipalID uuid.UUID
}

type ServiceParams struct {
	Repo             fundingRepository
	Identities       identityResolver
	Processor        processor.Client
	Notifications    notifications.Service
	TxRunner         txRunner
	Metrics          *metrics.SettlementMetrics
	Logger           *logger.Logger
	VerifyCapability bool
	Now              func() time.Time
}

type service struct {
	repo             fundingRepository
	identities       identityResolver
	processor        processor.Client
	notify           notifications.Service
	tx               txRunner
	metrics          *metrics.SettlementMetrics
	logg             *logger.Logger
	verifyCapability bool
	now              func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("funding repo required")
	case params.Identities == nil:
		return nil, fmt.Errorf("identity resolver required")
	case params.Processor == nil:
		return nil, fmt.Errorf("processor client required")
	case params.Notifications == nil:
		return nil, fmt.Errorf("notifications service required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:             params.Repo,
		identities:       params.Identities,
		processor:        params.Processor,
		notify:           params.Notifications,
		tx:               params.TxRunner,
		metrics:          params.Metrics,
		logg:             params.Logger,
		verifyCapability: params.VerifyCapability,
		now:              now,
	}, nil
}

func (s *service) CreateFundingIntent(ctx context.Context, input CreateIntentInput) (*IntentResult, error) {
	bountyID := strings.TrimSpace(input.BountyID)
	if bountyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bountyId is required")
	}
	if input.AmountMinorUnits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	currency, err := normalizeCurrency(input.Currency)
	if err != nil {
		return nil, err
	}

	if err := s.ensureFundable(ctx, bountyID); err != nil {
		return nil, err
	}

	customerID, err := s.identities.ResolveCustomer(ctx, input.Principal)
	if err != nil {
		return nil, err
	}

	intent, err := s.processor.CreateFundingIntent(ctx, processor.FundingIntentParams{
		AmountMinorUnits: input.AmountMinorUnits,
		Currency:         currency,
		CustomerID:       customerID,
		Metadata: map[string]string{
			processor.MetadataBountyID:      bountyID,
			processor.MetadataPrincipalID:   input.Principal.ID.String(),
			processor.MetadataPrincipalType: string(input.Principal.Type),
		},
		IdempotencyKey: intentIdempotencyKey(bountyID, input.Principal.ID, input.AmountMinorUnits, currency, input.Nonce),
	})
	if err != nil {
		return nil, processor.Classify(err, "funding intent rejected by processor")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.EnsureBounty(ctx, tx, bountyID); err != nil {
			return err
		}
		return s.repo.InsertIntent(ctx, tx, &models.FundingIntent{
			IntentID:         intent.ID,
			BountyID:         bountyID,
			PrincipalID:      input.Principal.ID,
			PrincipalType:    input.Principal.Type,
			AmountMinorUnits: input.AmountMinorUnits,
			Currency:         currency,
			Status:           intentStatusFrom(intent.Status),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist funding intent")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"bounty_id": bountyID, "intent_id": intent.ID})
	s.logg.Info(logCtx, "funding intent created")

	return &IntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (s *service) ensureFundable(ctx context.Context, bountyID string) error {
	bounty, err := s.repo.FindBounty(ctx, nil, bountyID)
	if err != nil && !db.IsNotFound(err) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bounty funding")
	}
	if bounty != nil && bounty.State != enums.FundingStateUnfunded {
		return pkgerrors.New(pkgerrors.CodeConflict, "bounty is already funded")
	}
	succeeded, err := s.repo.HasSucceededIntent(ctx, nil, bountyID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load funding intents")
	}
	if succeeded {
		return pkgerrors.New(pkgerrors.CodeConflict, "bounty is already funded")
	}
	return nil
}

// OnIntentSucceeded latches unfunded → held. Repeats and late duplicates are no-ops.
func (s *service) OnIntentSucceeded(ctx context.Context, tx *gorm.DB, event IntentEvent) error {
	intent, err := s.loadOrRecordIntent(ctx, tx, event, enums.FundingIntentSucceeded)
	if err != nil {
		return err
	}
	if err := s.repo.MarkIntentSucceeded(ctx, tx, intent.IntentID); err != nil {
		return err
	}
	if err := s.repo.EnsureBounty(ctx, tx, intent.BountyID); err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"bounty_id": intent.BountyID, "intent_id": intent.IntentID})

	held, err := s.repo.HoldBounty(ctx, tx, intent.BountyID, intent.IntentID, intent.PrincipalID, intent.AmountMinorUnits, intent.Currency, s.now())
	if err != nil {
		return err
	}
	if held == 0 {
		bounty, err := s.repo.FindBounty(ctx, tx, intent.BountyID)
		if err != nil {
			return err
		}
		if bounty.FundedIntentID != nil && *bounty.FundedIntentID == intent.IntentID {
			s.logg.Debug(logCtx, "funding intent already applied")
			return nil
		}
		// Money was captured twice for one bounty; only the first intent backs it.
		s.logg.Warn(s.logg.WithField(logCtx, "bounty_state", bounty.State), "funding.duplicate_intent_succeeded")
		return nil
	}

	s.logg.Info(logCtx, "bounty funds held")
	return s.notify.Request(ctx, tx, notifications.Request{
		PrincipalID:      intent.PrincipalID,
		PrincipalType:    intent.PrincipalType,
		Kind:             enums.NotificationFundingSucceeded,
		BountyID:         intent.BountyID,
		AmountMinorUnits: intent.AmountMinorUnits,
		Currency:         intent.Currency,
	})
}

func (s *service) OnIntentFailed(ctx context.Context, tx *gorm.DB, event IntentEvent) error {
	return s.closeIntent(ctx, tx, event, enums.FundingIntentFailed)
}

func (s *service) OnIntentCanceled(ctx context.Context, tx *gorm.DB, event IntentEvent) error {
	return s.closeIntent(ctx, tx, event, enums.FundingIntentCanceled)
}

// closeIntent never touches bounty state; a succeeded intent stays succeeded.
func (s *service) closeIntent(ctx context.Context, tx *gorm.DB, event IntentEvent, status enums.FundingIntentStatus) error {
	intent, err := s.loadOrRecordIntent(ctx, tx, event, status)
	if err != nil {
		return err
	}
	var reason *string
	if r := strings.TrimSpace(event.FailureReason); r != "" {
		reason = &r
	}
	affected, err := s.repo.MarkIntentClosed(ctx, tx, intent.IntentID, status, reason)
	if err != nil {
		return err
	}
	if affected == 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{"intent_id": intent.IntentID, "status": status})
		s.logg.Debug(logCtx, "intent already succeeded; close ignored")
	}
	return nil
}

// loadOrRecordIntent returns the local intent row, inserting one from the
// event when the webhook outran CreateFundingIntent's own insert.
func (s *service) loadOrRecordIntent(ctx context.Context, tx *gorm.DB, event IntentEvent, status enums.FundingIntentStatus) (*models.FundingIntent, error) {
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		return nil, fmt.Errorf("%w: missing intent id", ErrInvalidMetadata)
	}
	bountyID := strings.TrimSpace(event.Metadata[processor.MetadataBountyID])
	if bountyID == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, processor.MetadataBountyID)
	}

	existing, err := s.repo.FindIntent(ctx, tx, intentID)
	if err != nil && !db.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if existing.BountyID != bountyID {
			logCtx := s.logg.WithFields(ctx, map[string]any{"intent_id": intentID, "bounty_id": existing.BountyID, "metadata_bounty_id": bountyID})
			s.logg.Warn(logCtx, "funding.metadata_mismatch")
		}
		return existing, nil
	}

	event, err = s.completeFromProcessor(ctx, event)
	if err != nil {
		return nil, err
	}
	principalID, err := uuid.Parse(strings.TrimSpace(event.Metadata[processor.MetadataPrincipalID]))
	if err != nil || principalID == uuid.Nil {
		return nil, fmt.Errorf("%w: garbled %s", ErrInvalidMetadata, processor.MetadataPrincipalID)
	}
	currency, err := normalizeCurrency(event.Currency)
	if err != nil || event.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: missing amount or currency", ErrInvalidMetadata)
	}
	row := &models.FundingIntent{
		IntentID:         intentID,
		BountyID:         bountyID,
		PrincipalID:      principalID,
		PrincipalType:    principalTypeFrom(event.Metadata),
		AmountMinorUnits: event.AmountMinorUnits,
		Currency:         currency,
		Status:           status,
	}
	if err := s.repo.InsertIntent(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// completeFromProcessor reads the intent back from the processor when a
// thin event lacks the amount, currency or funder needed to record it.
// Lookup failures other than not-found are returned so the webhook is redelivered.
func (s *service) completeFromProcessor(ctx context.Context, event IntentEvent) (IntentEvent, error) {
	_, principalErr := uuid.Parse(strings.TrimSpace(event.Metadata[processor.MetadataPrincipalID]))
	if event.AmountMinorUnits > 0 && strings.TrimSpace(event.Currency) != "" && principalErr == nil {
		return event, nil
	}
	intent, err := s.processor.GetFundingIntent(ctx, strings.TrimSpace(event.IntentID))
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return event, fmt.Errorf("%w: intent unknown to processor", ErrInvalidMetadata)
		}
		return event, fmt.Errorf("load funding intent: %w", err)
	}
	if event.AmountMinorUnits <= 0 {
		event.AmountMinorUnits = intent.AmountMinorUnits
	}
	if strings.TrimSpace(event.Currency) == "" {
		event.Currency = intent.Currency
	}
	merged := make(map[string]string, len(intent.Metadata)+len(event.Metadata))
	for k, v := range intent.Metadata {
		merged[k] = v
	}
	for k, v := range event.Metadata {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	event.Metadata = merged
	return event, nil
}

// ReleaseToSolver pays the solver out of escrow. The bounty stays held on any
// transfer failure and the attempt is never retried automatically.
func (s *service) ReleaseToSolver(ctx context.Context, input ReleaseInput) (*models.Settlement, error) {
	bountyID := strings.TrimSpace(input.BountyID)
	if bountyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bountyId is required")
	}
	if input.SolverPrincipalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "solverPrincipalId is required")
	}
	if input.AmountMinorUnits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}

	bounty, err := s.heldBounty(ctx, bountyID, input.CallerPrincipalID)
	if err != nil {
		return nil, err
	}
	// Releases are all-or-nothing: a remainder would be stranded once the bounty is released.
	if input.AmountMinorUnits != bounty.AmountMinorUnits {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must equal held funds").
			WithDetails(map[string]any{"heldAmount": bounty.AmountMinorUnits})
	}

	solver, err := s.payoutDestination(ctx, input.SolverPrincipalID)
	if err != nil {
		return nil, err
	}
	accountID := solver.accountID

	return s.settle(ctx, bounty, settlementPlan{
		kind:      enums.SettlementRelease,
		caller:    input.CallerPrincipalID,
		recipient: input.SolverPrincipalID,
		amount:    input.AmountMinorUnits,
		execute: func(ctx context.Context, settlement *models.Settlement) (string, error) {
			transfer, err := s.processor.CreateTransfer(ctx, processor.TransferParams{
				AmountMinorUnits:     settlement.AmountMinorUnits,
				Currency:             settlement.Currency,
				DestinationAccountID: accountID,
				TransferGroup:        bountyID,
				Metadata: map[string]string{
					processor.MetadataBountyID:     bountyID,
					processor.MetadataSettlementID: settlement.ID.String(),
				},
				IdempotencyKey: "settlement:" + settlement.ID.String(),
			})
			if err != nil {
				return "", err
			}
			return transfer.ID, nil
		},
		complete: func(ctx context.Context, tx *gorm.DB, at time.Time) (int64, error) {
			return s.repo.ReleaseBounty(ctx, tx, bountyID, at)
		},
		notify: notifications.Request{
			PrincipalID:      input.SolverPrincipalID,
			PrincipalType:    solver.principalType,
			Kind:             enums.NotificationPayoutReleased,
			BountyID:         bountyID,
			AmountMinorUnits: input.AmountMinorUnits,
			Currency:         bounty.Currency,
		},
	})
}

// CancelFunding refunds held funds to the creator. Only the creator may cancel.
func (s *service) CancelFunding(ctx context.Context, input CancelInput) (*models.Settlement, error) {
	bountyID := strings.TrimSpace(input.BountyID)
	if bountyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bountyId is required")
	}
	bounty, err := s.heldBounty(ctx, bountyID, input.CallerPrincipalID)
	if err != nil {
		return nil, err
	}
	if bounty.FundedIntentID == nil || bounty.PrincipalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "held bounty has no funding record")
	}
	intentID := *bounty.FundedIntentID
	funderType, err := s.funderType(ctx, intentID)
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, bounty, settlementPlan{
		kind:      enums.SettlementRefund,
		caller:    input.CallerPrincipalID,
		recipient: *bounty.PrincipalID,
		amount:    bounty.AmountMinorUnits,
		execute: func(ctx context.Context, settlement *models.Settlement) (string, error) {
			refund, err := s.processor.RefundFundingIntent(ctx, processor.RefundParams{
				IntentID:       intentID,
				IdempotencyKey: "settlement:" + settlement.ID.String(),
			})
			if err != nil {
				return "", err
			}
			return refund.ID, nil
		},
		complete: func(ctx context.Context, tx *gorm.DB, at time.Time) (int64, error) {
			return s.repo.RefundBounty(ctx, tx, bountyID, at)
		},
		notify: notifications.Request{
			PrincipalID:      *bounty.PrincipalID,
			PrincipalType:    funderType,
			Kind:             enums.NotificationFundingRefunded,
			BountyID:         bountyID,
			AmountMinorUnits: bounty.AmountMinorUnits,
			Currency:         bounty.Currency,
		},
	})
}

// GetFundingState reports unfunded for bounties this service has never seen.
func (s *service) GetFundingState(ctx context.Context, bountyID string) (enums.FundingState, error) {
	bounty, err := s.repo.FindBounty(ctx, nil, strings.TrimSpace(bountyID))
	if err != nil {
		if db.IsNotFound(err) {
			return enums.FundingStateUnfunded, nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bounty funding")
	}
	return bounty.State, nil
}

func (s *service) heldBounty(ctx context.Context, bountyID string, caller uuid.UUID) (*models.BountyFunding, error) {
	bounty, err := s.repo.FindBounty(ctx, nil, bountyID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bounty funding")
	}
	if err := requireFunder(bounty, caller); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"bounty_id": bountyID, "caller_principal_id": caller.String()}), "funding.settlement_denied")
		return nil, err
	}
	if err := requireHeld(bounty); err != nil {
		return nil, err
	}
	return bounty, nil
}

type payoutTarget struct {
	accountID     string
	principalType enums.PrincipalType
}

func (s *service) payoutDestination(ctx context.Context, solverID uuid.UUID) (payoutTarget, error) {
	ident, err := s.identities.Get(ctx, solverID)
	if err != nil {
		return payoutTarget{}, err
	}
	if ident == nil || ident.PayoutAccountID == nil || !ident.PayoutTransfersEnabled {
		return payoutTarget{}, pkgerrors.New(pkgerrors.CodeStateConflict, "solver payout account cannot receive transfers")
	}
	target := payoutTarget{accountID: *ident.PayoutAccountID, principalType: ident.PrincipalType}
	if !s.verifyCapability {
		return target, nil
	}
	account, err := s.processor.GetPayoutAccount(ctx, *ident.PayoutAccountID)
	if err != nil {
		return payoutTarget{}, processor.Classify(err, "payout account rejected by processor")
	}
	if !account.TransfersEnabled {
		return payoutTarget{}, pkgerrors.New(pkgerrors.CodeStateConflict, "solver payout account cannot receive transfers")
	}
	target.accountID = account.ID
	return target, nil
}

// funderType reads the principal type recorded on the intent that funded the bounty.
func (s *service) funderType(ctx context.Context, intentID string) (enums.PrincipalType, error) {
	intent, err := s.repo.FindIntent(ctx, nil, intentID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load funding intent")
	}
	return intent.PrincipalType, nil
}

type settlementPlan struct {
	kind      enums.SettlementKind
	caller    uuid.UUID
	recipient uuid.UUID
	amount    int64
	execute   func(ctx context.Context, settlement *models.Settlement) (string, error)
	complete  func(ctx context.Context, tx *gorm.DB, at time.Time) (int64, error)
	notify    notifications.Request
}

// settle claims the bounty's settlement row, calls the processor outside any
// transaction, then commits the terminal transition with the outcome.
func (s *service) settle(ctx context.Context, bounty *models.BountyFunding, plan settlementPlan) (*models.Settlement, error) {
	recipient := plan.recipient
	settlement := &models.Settlement{
		BountyID:             bounty.BountyID,
		Kind:                 plan.kind,
		Status:               enums.SettlementPending,
		RecipientPrincipalID: &recipient,
		AmountMinorUnits:     plan.amount,
		Currency:             bounty.Currency,
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"bounty_id": bounty.BountyID, "settlement_kind": plan.kind})

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindBounty(ctx, tx, bounty.BountyID)
		if err != nil {
			return err
		}
		if err := requireFunder(current, plan.caller); err != nil {
			return err
		}
		if err := requireHeld(current); err != nil {
			return err
		}
		return s.repo.ClaimSettlement(ctx, tx, settlement)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, s.claimConflict(ctx, bounty.BountyID)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim settlement")
	}
	logCtx = s.logg.WithField(logCtx, "settlement_id", settlement.ID.String())

	ref, err := plan.execute(ctx, settlement)
	if err != nil {
		return nil, s.recordFailure(logCtx, settlement, err)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.FinishSettlement(ctx, tx, settlement.ID, enums.SettlementSucceeded, &ref, nil)
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.New("settlement is no longer pending")
		}
		moved, err := plan.complete(ctx, tx, s.now())
		if err != nil {
			return err
		}
		if moved == 0 {
			return errors.New("bounty left held state during settlement")
		}
		return s.notify.Request(ctx, tx, plan.notify)
	})
	if err != nil {
		// The processor moved money; leave the claim blocking until an operator reconciles it.
		reason := "local commit failed: " + err.Error()
		if _, markErr := s.repo.FinishSettlement(ctx, nil, settlement.ID, enums.SettlementUnknown, &ref, &reason); markErr != nil {
			s.logg.Error(logCtx, "settlement.mark_unknown_failed", markErr)
		}
		s.metrics.Observe(string(plan.kind), string(enums.SettlementUnknown))
		s.logg.Error(s.logg.WithField(logCtx, "processor_ref", ref), "settlement.commit_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record settlement")
	}

	settlement.Status = enums.SettlementSucceeded
	settlement.ProcessorRef = &ref
	s.metrics.Observe(string(plan.kind), string(enums.SettlementSucceeded))
	s.logg.Info(s.logg.WithField(logCtx, "processor_ref", ref), "settlement succeeded")
	return settlement, nil
}

func (s *service) recordFailure(ctx context.Context, settlement *models.Settlement, cause error) error {
	status := enums.SettlementUnknown
	if processor.IsRejected(cause) {
		status = enums.SettlementFailed
	}
	reason := cause.Error()
	if _, err := s.repo.FinishSettlement(ctx, nil, settlement.ID, status, nil, &reason); err != nil {
		s.logg.Error(ctx, "settlement.mark_failed", err)
	}
	s.metrics.Observe(string(settlement.Kind), string(status))
	s.logg.Error(s.logg.WithField(ctx, "settlement_status", status), "settlement.processor_failed", cause)

	if status == enums.SettlementFailed {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, cause, "processor rejected the settlement")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "settlement outcome unknown; operator review required")
}

func (s *service) claimConflict(ctx context.Context, bountyID string) error {
	bounty, err := s.repo.FindBounty(ctx, nil, bountyID)
	if err == nil && bounty.State.IsTerminal() {
		return alreadyTerminal(bounty.State)
	}
	live, err := s.repo.FindLiveSettlement(ctx, nil, bountyID)
	if err == nil && live.Status == enums.SettlementUnknown {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "a previous settlement needs operator review")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "settlement already in progress")
}

// requireFunder admits only the principal whose intent funded the bounty.
// Unfunded bounties have no funder and fall through to requireHeld.
func requireFunder(bounty *models.BountyFunding, caller uuid.UUID) error {
	if bounty == nil || bounty.PrincipalID == nil {
		return nil
	}
	if caller == uuid.Nil || *bounty.PrincipalID != caller {
		return pkgerrors.New(pkgerrors.CodeIdentityMismatch, "caller did not fund this bounty")
	}
	return nil
}

func requireHeld(bounty *models.BountyFunding) error {
	if bounty == nil || bounty.State == enums.FundingStateUnfunded {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "bounty is not funded")
	}
	if bounty.State.IsTerminal() {
		return alreadyTerminal(bounty.State)
	}
	return nil
}

func alreadyTerminal(state enums.FundingState) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyTerminal, "bounty funds already settled").
		WithDetails(map[string]any{"state": state})
}

func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToLower(strings.TrimSpace(raw))
	if len(currency) != 3 || validate.Var(strings.ToUpper(currency), "iso4217") != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "currency must be an ISO-4217 code")
	}
	return currency, nil
}

func intentIdempotencyKey(bountyID string, principalID uuid.UUID, amount int64, currency, nonce string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		bountyID, principalID.String(), strconv.FormatInt(amount, 10), currency, strings.TrimSpace(nonce),
	}, "|")))
	return "funding_intent:" + hex.EncodeToString(sum[:16])
}

func intentStatusFrom(status processor.IntentStatus) enums.FundingIntentStatus {
	switch status {
	case processor.IntentStatusRequiresAction:
		return enums.FundingIntentRequiresAction
	case processor.IntentStatusSucceeded:
		return enums.FundingIntentSucceeded
	case processor.IntentStatusCanceled:
		return enums.FundingIntentCanceled
	default:
		return enums.FundingIntentCreated
	}
}

func principalTypeFrom(metadata map[string]string) enums.PrincipalType {
	if parsed, err := enums.ParsePrincipalType(metadata[processor.MetadataPrincipalType]); err == nil {
		return parsed
	}
	return ""
}
