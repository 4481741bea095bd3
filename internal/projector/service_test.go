package projector

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/internal/processor/processortest"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

type stubIdentities struct {
	rows map[uuid.UUID]*models.BillingIdentity
}

func (s *stubIdentities) Get(_ context.Context, principalID uuid.UUID) (*models.BillingIdentity, error) {
	return s.rows[principalID], nil
}

type stubRecords struct {
	settlements []models.Settlement
	intents     []models.FundingIntent
}

func (s *stubRecords) ListSettlementsForRecipient(context.Context, uuid.UUID) ([]models.Settlement, error) {
	return s.settlements, nil
}

func (s *stubRecords) ListIntentsForPrincipal(context.Context, uuid.UUID) ([]models.FundingIntent, error) {
	return s.intents, nil
}

func strPtr(v string) *string { return &v }

func newService(t *testing.T, ids *stubIdentities, records *stubRecords, fake *processortest.Fake, cache *BalanceCache) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Identities: ids, Records: records, Processor: fake, Cache: cache})
	require.NoError(t, err)
	return svc
}

func TestGetBalanceWithoutPayoutAccountIsZeroed(t *testing.T) {
	fake := processortest.New()
	svc := newService(t, &stubIdentities{}, &stubRecords{}, fake, nil)

	balance, err := svc.GetBalance(context.Background(), identity.Principal{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, Balance{Currency: "usd"}, *balance)
	assert.Zero(t, fake.Calls(processortest.OpGetBalance))
}

func TestGetBalanceFoldsAndCaches(t *testing.T) {
	fake := processortest.New()
	principal := identity.Principal{ID: uuid.New(), Type: enums.PrincipalUser}
	ids := &stubIdentities{rows: map[uuid.UUID]*models.BillingIdentity{
		principal.ID: {PrincipalID: principal.ID, PayoutAccountID: strPtr("acct_1")},
	}}
	fake.SetBalance("acct_1", processor.Balance{
		Available: []processor.BalanceAmount{{AmountMinorUnits: 1200, Currency: "usd"}, {AmountMinorUnits: 999, Currency: "eur"}},
		Pending:   []processor.BalanceAmount{{AmountMinorUnits: 300, Currency: "USD"}},
	})
	svc := newService(t, ids, &stubRecords{}, fake, NewBalanceCache(8, time.Minute))

	balance, err := svc.GetBalance(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, Balance{Available: 1200, Pending: 300, Total: 1500, Currency: "usd"}, *balance)

	_, err = svc.GetBalance(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls(processortest.OpGetBalance))
}

func TestGetBalanceFallsBackToReportedCurrency(t *testing.T) {
	fake := processortest.New()
	principal := identity.Principal{ID: uuid.New()}
	ids := &stubIdentities{rows: map[uuid.UUID]*models.BillingIdentity{
		principal.ID: {PrincipalID: principal.ID, PayoutAccountID: strPtr("acct_eu")},
	}}
	fake.SetBalance("acct_eu", processor.Balance{Available: []processor.BalanceAmount{{AmountMinorUnits: 50, Currency: "eur"}}})
	svc := newService(t, ids, &stubRecords{}, fake, nil)

	balance, err := svc.GetBalance(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, "eur", balance.Currency)
	assert.EqualValues(t, 50, balance.Total)
}

func TestGetBalanceProcessorUnavailable(t *testing.T) {
	fake := processortest.New()
	principal := identity.Principal{ID: uuid.New()}
	ids := &stubIdentities{rows: map[uuid.UUID]*models.BillingIdentity{
		principal.ID: {PrincipalID: principal.ID, PayoutAccountID: strPtr("acct_1")},
	}}
	fake.FailNext(processortest.OpGetBalance, processor.ErrUnavailable)
	svc := newService(t, ids, &stubRecords{}, fake, NewBalanceCache(8, time.Minute))

	_, err := svc.GetBalance(context.Background(), principal)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}

func TestGetActivityMergesAndPaginates(t *testing.T) {
	ctx := context.Background()
	fake := processortest.New()
	principal := identity.Principal{ID: uuid.New(), Type: enums.PrincipalUser, Email: "solver@example.test"}

	acct, err := fake.CreatePayoutAccount(ctx, processor.PayoutAccountParams{Email: principal.Email})
	require.NoError(t, err)
	first, err := fake.CreateTransfer(ctx, processor.TransferParams{AmountMinorUnits: 5000, Currency: "usd", DestinationAccountID: acct.ID})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = fake.CreateTransfer(ctx, processor.TransferParams{
		AmountMinorUnits:     7550,
		Currency:             "usd",
		DestinationAccountID: acct.ID,
		Metadata:             map[string]string{processor.MetadataBountyID: "B2"},
	})
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	fake.AddCharge("cus_1", processor.Charge{ID: "ch_old", IntentID: "pi_1", AmountMinorUnits: 10000, Currency: "usd", Created: base})
	fake.AddCharge("cus_1", processor.Charge{ID: "ch_yen", AmountMinorUnits: 500, Currency: "jpy", Created: base.Add(time.Minute)})

	ids := &stubIdentities{rows: map[uuid.UUID]*models.BillingIdentity{
		principal.ID: {PrincipalID: principal.ID, CustomerID: strPtr("cus_1"), PayoutAccountID: strPtr(acct.ID)},
	}}
	records := &stubRecords{
		settlements: []models.Settlement{{BountyID: "B1", ProcessorRef: strPtr(first.ID)}},
		intents:     []models.FundingIntent{{IntentID: "pi_1", BountyID: "B0"}},
	}
	svc := newService(t, ids, records, fake, nil)

	page, err := svc.GetActivity(ctx, principal, 1, 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)

	assert.Equal(t, ActivityTransfer, page.Items[0].Kind)
	assert.Equal(t, "B2", page.Items[0].BountyID)
	assert.Equal(t, "75.50", page.Items[0].DisplayAmount)
	assert.Equal(t, first.ID, page.Items[1].ID)
	assert.Equal(t, "B1", page.Items[1].BountyID)
	assert.Equal(t, "ch_yen", page.Items[2].ID)
	assert.Equal(t, "500", page.Items[2].DisplayAmount)

	next, err := svc.GetActivity(ctx, principal, 2, 3)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.False(t, next.HasMore)
	assert.Equal(t, ActivityCharge, next.Items[0].Kind)
	assert.Equal(t, "B0", next.Items[0].BountyID)
	assert.Equal(t, "100.00", next.Items[0].DisplayAmount)
}

func TestGetActivityWithoutIdentity(t *testing.T) {
	svc := newService(t, &stubIdentities{}, &stubRecords{}, processortest.New(), nil)
	page, err := svc.GetActivity(context.Background(), identity.Principal{ID: uuid.New()}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 25, page.Limit)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
