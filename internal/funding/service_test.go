package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/internal/processor/processortest"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/db/dbtest"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/outbox"
)

type harness struct {
	svc    Service
	repo   *Repository
	ids    identity.Service
	fake   *processortest.Fake
	client *db.Client
}

func newHarness(t *testing.T, verifyCapability bool) *harness {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "funding-test", Output: io.Discard})
	fake := processortest.New()

	ids, err := identity.NewService(identity.ServiceParams{
		Repo:      identity.NewRepository(client.DB()),
		Processor: fake,
		Logger:    logg,
	})
	require.NoError(t, err)

	notify, err := notifications.NewService(outbox.NewService(outbox.NewRepository(client.DB()), logg))
	require.NoError(t, err)

	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{
		Repo:             repo,
		Identities:       ids,
		Processor:        fake,
		Notifications:    notify,
		TxRunner:         client,
		Logger:           logg,
		VerifyCapability: verifyCapability,
	})
	require.NoError(t, err)
	return &harness{svc: svc, repo: repo, ids: ids, fake: fake, client: client}
}

func creator() identity.Principal {
	return identity.Principal{ID: uuid.New(), Type: enums.PrincipalOrganization, Email: "billing@acme.test"}
}

func (h *harness) deliverSucceeded(t *testing.T, event IntentEvent) error {
	t.Helper()
	return h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.svc.OnIntentSucceeded(context.Background(), tx, event)
	})
}

func (h *harness) fund(t *testing.T, bountyID string, amount int64) identity.Principal {
	t.Helper()
	owner := creator()
	result, err := h.svc.CreateFundingIntent(context.Background(), CreateIntentInput{
		BountyID:         bountyID,
		AmountMinorUnits: amount,
		Currency:         "usd",
		Principal:        owner,
	})
	require.NoError(t, err)
	require.NoError(t, h.deliverSucceeded(t, IntentEvent{
		IntentID: result.IntentID,
		Metadata: map[string]string{processor.MetadataBountyID: bountyID},
	}))
	return owner
}

func (h *harness) capableSolver(t *testing.T) uuid.UUID {
	t.Helper()
	return h.capablePayee(t, enums.PrincipalUser)
}

func (h *harness) capablePayee(t *testing.T, principalType enums.PrincipalType) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	solver := identity.Principal{ID: uuid.New(), Type: principalType, Email: "solver@example.test"}
	accountID, err := h.ids.ResolvePayoutAccount(ctx, solver)
	require.NoError(t, err)
	found, err := h.ids.SetPayoutCapability(ctx, nil, accountID, true, true)
	require.NoError(t, err)
	require.True(t, found)
	h.fake.SetAccountCapability(accountID, true)
	return solver.ID
}

func (h *harness) outboxCount(t *testing.T, bountyID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("aggregate_id = ?", bountyID).Count(&count).Error)
	return count
}

func TestCreateFundingIntentValidation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 0, Currency: "usd", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "zero amount: %v", err)

	_, err = h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: -5, Currency: "usd", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "negative amount: %v", err)

	_, err = h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 100, Currency: "dollars", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "bad currency: %v", err)

	_, err = h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: " ", AmountMinorUnits: 100, Currency: "usd", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "blank bounty: %v", err)

	assert.Zero(t, h.fake.Calls(processortest.OpCreateFundingIntent))
}

func TestCreateFundingIntentPersistsUnfundedBounty(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 10000, Currency: "USD", Principal: creator()})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ClientSecret)

	intent, err := h.repo.FindIntent(ctx, nil, result.IntentID)
	require.NoError(t, err)
	assert.Equal(t, "usd", intent.Currency)
	assert.Equal(t, enums.FundingIntentCreated, intent.Status)

	state, err := h.svc.GetFundingState(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, enums.FundingStateUnfunded, state)
}

func TestCreateFundingIntentProcessorUnavailable(t *testing.T) {
	h := newHarness(t, false)
	h.fake.FailNext(processortest.OpCreateFundingIntent, fmt.Errorf("%w: timeout", processor.ErrUnavailable))

	_, err := h.svc.CreateFundingIntent(context.Background(), CreateIntentInput{BountyID: "B1", AmountMinorUnits: 100, Currency: "usd", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestFundingLatchSurvivesDoubleDelivery(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 10000, Currency: "usd", Principal: creator()})
	require.NoError(t, err)

	event := IntentEvent{IntentID: result.IntentID, Metadata: map[string]string{processor.MetadataBountyID: "B1"}}
	require.NoError(t, h.deliverSucceeded(t, event))
	first, err := h.repo.FindBounty(ctx, nil, "B1")
	require.NoError(t, err)

	require.NoError(t, h.deliverSucceeded(t, event))
	second, err := h.repo.FindBounty(ctx, nil, "B1")
	require.NoError(t, err)

	assert.Equal(t, enums.FundingStateHeld, second.State)
	assert.Equal(t, first.HeldAt, second.HeldAt)
	assert.Equal(t, result.IntentID, *second.FundedIntentID)
	assert.EqualValues(t, 10000, second.AmountMinorUnits)
	assert.EqualValues(t, 1, h.outboxCount(t, "B1"), "one funding notification")
}

func TestFundingRejectedOnceHeld(t *testing.T) {
	h := newHarness(t, false)
	h.fund(t, "B1", 500)

	_, err := h.svc.CreateFundingIntent(context.Background(), CreateIntentInput{BountyID: "B1", AmountMinorUnits: 500, Currency: "usd", Principal: creator()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestSecondSucceededIntentIsNotCanonical(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := creator()

	first, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 700, Currency: "usd", Principal: owner, Nonce: "a"})
	require.NoError(t, err)
	second, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B1", AmountMinorUnits: 700, Currency: "usd", Principal: owner, Nonce: "b"})
	require.NoError(t, err)
	require.NotEqual(t, first.IntentID, second.IntentID)

	meta := map[string]string{processor.MetadataBountyID: "B1"}
	require.NoError(t, h.deliverSucceeded(t, IntentEvent{IntentID: first.IntentID, Metadata: meta}))
	require.NoError(t, h.deliverSucceeded(t, IntentEvent{IntentID: second.IntentID, Metadata: meta}))

	bounty, err := h.repo.FindBounty(ctx, nil, "B1")
	require.NoError(t, err)
	assert.Equal(t, first.IntentID, *bounty.FundedIntentID)

	late, err := h.repo.FindIntent(ctx, nil, second.IntentID)
	require.NoError(t, err)
	assert.Equal(t, enums.FundingIntentSucceeded, late.Status)
}

func TestSucceededWebhookBeforeLocalInsert(t *testing.T) {
	h := newHarness(t, false)
	owner := uuid.New()

	err := h.deliverSucceeded(t, IntentEvent{
		IntentID:         "pi_external",
		AmountMinorUnits: 2500,
		Currency:         "usd",
		Metadata: map[string]string{
			processor.MetadataBountyID:    "B9",
			processor.MetadataPrincipalID: owner.String(),
		},
	})
	require.NoError(t, err)

	bounty, err := h.repo.FindBounty(context.Background(), nil, "B9")
	require.NoError(t, err)
	assert.Equal(t, enums.FundingStateHeld, bounty.State)
	assert.Equal(t, owner, *bounty.PrincipalID)
}

func TestThinSucceededEventReadsIntentFromProcessor(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := uuid.New()
	intent, err := h.fake.CreateFundingIntent(ctx, processor.FundingIntentParams{
		AmountMinorUnits: 4200,
		Currency:         "eur",
		Metadata: map[string]string{
			processor.MetadataBountyID:      "B7",
			processor.MetadataPrincipalID:   owner.String(),
			processor.MetadataPrincipalType: string(enums.PrincipalOrganization),
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.deliverSucceeded(t, IntentEvent{IntentID: intent.ID, Metadata: map[string]string{processor.MetadataBountyID: "B7"}}))
	assert.Equal(t, 1, h.fake.Calls(processortest.OpGetFundingIntent))

	bounty, err := h.repo.FindBounty(ctx, nil, "B7")
	require.NoError(t, err)
	assert.Equal(t, enums.FundingStateHeld, bounty.State)
	assert.Equal(t, int64(4200), bounty.AmountMinorUnits)
	assert.Equal(t, "eur", bounty.Currency)
	assert.Equal(t, owner, *bounty.PrincipalID)

	row, err := h.repo.FindIntent(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PrincipalOrganization, row.PrincipalType)
}

func TestThinEventRetriedWhenProcessorUnavailable(t *testing.T) {
	h := newHarness(t, false)
	h.fake.FailNext(processortest.OpGetFundingIntent, fmt.Errorf("%w: timeout", processor.ErrUnavailable))

	err := h.deliverSucceeded(t, IntentEvent{IntentID: "pi_thin", Metadata: map[string]string{processor.MetadataBountyID: "B8"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidMetadata)
	assert.ErrorIs(t, err, processor.ErrUnavailable)
}

func TestSucceededWithoutBountyMetadata(t *testing.T) {
	h := newHarness(t, false)
	err := h.deliverSucceeded(t, IntentEvent{IntentID: "pi_x", Metadata: map[string]string{"bounty_id": "  "}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	err = h.deliverSucceeded(t, IntentEvent{
		IntentID:         "pi_y",
		AmountMinorUnits: 100,
		Currency:         "usd",
		Metadata:         map[string]string{processor.MetadataBountyID: "B2", processor.MetadataPrincipalID: "not-a-uuid"},
	})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestIntentFailureNeverRegressesSuccess(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.fund(t, "B1", 300)
	bounty, err := h.repo.FindBounty(ctx, nil, "B1")
	require.NoError(t, err)

	err = h.client.WithTx(ctx, func(tx *gorm.DB) error {
		return h.svc.OnIntentFailed(ctx, tx, IntentEvent{
			IntentID:      *bounty.FundedIntentID,
			Metadata:      map[string]string{processor.MetadataBountyID: "B1"},
			FailureReason: "card_declined",
		})
	})
	require.NoError(t, err)

	intent, err := h.repo.FindIntent(ctx, nil, *bounty.FundedIntentID)
	require.NoError(t, err)
	assert.Equal(t, enums.FundingIntentSucceeded, intent.Status)
	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateHeld, state)
}

func TestIntentCanceledRecordsStatus(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	result, err := h.svc.CreateFundingIntent(ctx, CreateIntentInput{BountyID: "B3", AmountMinorUnits: 100, Currency: "usd", Principal: creator()})
	require.NoError(t, err)

	err = h.client.WithTx(ctx, func(tx *gorm.DB) error {
		return h.svc.OnIntentCanceled(ctx, tx, IntentEvent{IntentID: result.IntentID, Metadata: map[string]string{processor.MetadataBountyID: "B3"}})
	})
	require.NoError(t, err)

	intent, err := h.repo.FindIntent(ctx, nil, result.IntentID)
	require.NoError(t, err)
	assert.Equal(t, enums.FundingIntentCanceled, intent.Status)
	state, _ := h.svc.GetFundingState(ctx, "B3")
	assert.Equal(t, enums.FundingStateUnfunded, state)
}

func TestReleaseTwiceTransfersOnce(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 10000)
	solver := h.capableSolver(t)

	settlement, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementSucceeded, settlement.Status)

	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyTerminal), "second release: %v", err)

	assert.Len(t, h.fake.Transfers(), 1)
	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateReleased, state)
}

func TestConcurrentReleasesTransferOnce(t *testing.T) {
	h := newHarness(t, false)
	owner := h.fund(t, "B1", 10000)
	solver := h.capableSolver(t)
	h.fake.CallDelay = 10 * time.Millisecond

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.ReleaseToSolver(context.Background(), ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyTerminal) || pkgerrors.IsCode(err, pkgerrors.CodeConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.fake.Transfers(), 1)
}

func TestReleaseRejectedTransferKeepsBountyHeld(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 10000)
	solver := h.capableSolver(t)
	h.fake.FailNext(processortest.OpCreateTransfer, fmt.Errorf("%w: insufficient platform balance", processor.ErrRejected))

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateHeld, state)

	var failed models.Settlement
	require.NoError(t, h.client.DB().Where("bounty_id = ?", "B1").First(&failed).Error)
	assert.Equal(t, enums.SettlementFailed, failed.Status)

	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	require.NoError(t, err, "a failed attempt can be claimed again")
	assert.Len(t, h.fake.Transfers(), 1)
}

func TestReleaseAmbiguousTransferBlocksFurtherClaims(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 10000)
	solver := h.capableSolver(t)
	h.fake.FailNext(processortest.OpCreateTransfer, fmt.Errorf("%w: gateway timeout", processor.ErrUnavailable))

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unknown outcome must block: %v", err)

	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateHeld, state)
	assert.Empty(t, h.fake.Transfers())
	assert.Equal(t, 1, h.fake.Calls(processortest.OpCreateTransfer))
}

func TestReleasePreconditions(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B0", SolverPrincipalID: uuid.New(), AmountMinorUnits: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unfunded bounty: %v", err)

	owner := h.fund(t, "B1", 1000)
	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: uuid.New(), AmountMinorUnits: 1000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "solver without payout account: %v", err)

	solver := h.capableSolver(t)
	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 1001})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "over-release: %v", err)
	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "partial release: %v", err)

	uncapable := identity.Principal{ID: uuid.New(), Type: enums.PrincipalUser, Email: "new@example.test"}
	_, err = h.ids.ResolvePayoutAccount(ctx, uncapable)
	require.NoError(t, err)
	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: uncapable.ID, AmountMinorUnits: 1000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "onboarding incomplete: %v", err)

	assert.Empty(t, h.fake.Transfers())
}

func TestReleaseReverifiesCapabilityWhenConfigured(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	owner := h.fund(t, "B1", 1000)
	solver := h.capableSolver(t)

	row, err := h.ids.Get(ctx, solver)
	require.NoError(t, err)
	h.fake.SetAccountCapability(*row.PayoutAccountID, false)

	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 1000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, h.fake.Calls(processortest.OpGetPayoutAccount))
	assert.Empty(t, h.fake.Transfers())
}

func TestCancelFundingRefundsCreator(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 4000)

	settlement, err := h.svc.CancelFunding(ctx, CancelInput{BountyID: "B1", CallerPrincipalID: owner.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementRefund, settlement.Kind)
	assert.Equal(t, owner.ID, *settlement.RecipientPrincipalID)
	assert.Len(t, h.fake.Refunds(), 1)

	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateRefunded, state)

	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: uuid.New(), AmountMinorUnits: 4000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyTerminal))
	_, err = h.svc.CancelFunding(ctx, CancelInput{BountyID: "B1", CallerPrincipalID: owner.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyTerminal))
}

func TestPartialReleaseLeavesFundsHeld(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 10000)
	solver := h.capableSolver(t)

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 1})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "partial release: %v", err)
	assert.Empty(t, h.fake.Transfers())

	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateHeld, state)

	settlement, err := h.svc.CancelFunding(ctx, CancelInput{BountyID: "B1", CallerPrincipalID: owner.ID})
	require.NoError(t, err, "the full amount is still refundable")
	assert.Equal(t, int64(10000), settlement.AmountMinorUnits)
}

func TestSettlementByNonFunderIsDenied(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.fund(t, "B1", 10000)
	outsider := h.capableSolver(t)

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: outsider, SolverPrincipalID: outsider, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdentityMismatch), "foreign release: %v", err)
	_, err = h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", SolverPrincipalID: outsider, AmountMinorUnits: 10000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdentityMismatch), "anonymous release: %v", err)
	_, err = h.svc.CancelFunding(ctx, CancelInput{BountyID: "B1", CallerPrincipalID: outsider})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdentityMismatch), "foreign cancel: %v", err)

	assert.Empty(t, h.fake.Transfers())
	assert.Empty(t, h.fake.Refunds())
	var settlements int64
	require.NoError(t, h.client.DB().Model(&models.Settlement{}).Where("bounty_id = ?", "B1").Count(&settlements).Error)
	assert.Zero(t, settlements)
	state, _ := h.svc.GetFundingState(ctx, "B1")
	assert.Equal(t, enums.FundingStateHeld, state)
}

func TestSettlementNotificationsCarryPrincipalType(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := h.fund(t, "B1", 10000)
	solver := h.capablePayee(t, enums.PrincipalOrganization)

	_, err := h.svc.ReleaseToSolver(ctx, ReleaseInput{BountyID: "B1", CallerPrincipalID: owner.ID, SolverPrincipalID: solver, AmountMinorUnits: 10000})
	require.NoError(t, err)

	owner2 := h.fund(t, "B2", 500)
	_, err = h.svc.CancelFunding(ctx, CancelInput{BountyID: "B2", CallerPrincipalID: owner2.ID})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, h.client.DB().Where("aggregate_id IN ?", []string{"B1", "B2"}).Order("created_at").Find(&rows).Error)
	types := map[string]string{}
	for _, row := range rows {
		var envelope outbox.PayloadEnvelope
		require.NoError(t, json.Unmarshal(row.Payload, &envelope))
		var data struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(envelope.Data, &data))
		require.NotNil(t, envelope.Actor, "kind %s has no actor", data.Kind)
		types[data.Kind] = string(envelope.Actor.PrincipalType)
	}
	assert.Equal(t, string(enums.PrincipalOrganization), types[string(enums.NotificationPayoutReleased)])
	assert.Equal(t, string(enums.PrincipalOrganization), types[string(enums.NotificationFundingRefunded)])
	assert.Equal(t, string(enums.PrincipalOrganization), types[string(enums.NotificationFundingSucceeded)])
}

func TestGetFundingStateUnknownBounty(t *testing.T) {
	h := newHarness(t, false)
	state, err := h.svc.GetFundingState(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, enums.FundingStateUnfunded, state)
}
