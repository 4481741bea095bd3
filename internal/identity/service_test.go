package identity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/internal/processor/processortest"
	"github.com/bountyhub/escrow/pkg/db/dbtest"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

func newTestService(t *testing.T) (Service, *Repository, *processortest.Fake) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	fake := processortest.New()
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Processor:  fake,
		RefreshURL: "https://app.example.test/payouts/refresh",
		ReturnURL:  "https://app.example.test/payouts/done",
	})
	require.NoError(t, err)
	return svc, repo, fake
}

func orgPrincipal() Principal {
	return Principal{ID: uuid.New(), Type: enums.PrincipalOrganization, Email: "billing@acme.test"}
}

func TestResolveCustomerConcurrentFirstCallsConverge(t *testing.T) {
	svc, repo, fake := newTestService(t)
	fake.CallDelay = 5 * time.Millisecond
	principal := orgPrincipal()

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = svc.ResolveCustomer(context.Background(), principal)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, fake.Customers())

	var count int64
	require.NoError(t, repo.DB(context.Background()).Model(&models.BillingIdentity{}).Where("principal_id = ?", principal.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestResolveCustomerReturnsCachedMapping(t *testing.T) {
	svc, _, fake := newTestService(t)
	principal := orgPrincipal()

	first, err := svc.ResolveCustomer(context.Background(), principal)
	require.NoError(t, err)
	second, err := svc.ResolveCustomer(context.Background(), principal)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Calls(processortest.OpCreateCustomer))
}

func TestResolveCustomerRejectsMalformedEmail(t *testing.T) {
	svc, _, fake := newTestService(t)
	principal := orgPrincipal()
	principal.Email = "not-an-email"

	_, err := svc.ResolveCustomer(context.Background(), principal)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, fake.Calls(processortest.OpCreateCustomer))
}

func TestResolveCustomerProcessorUnavailable(t *testing.T) {
	svc, _, fake := newTestService(t)
	principal := orgPrincipal()
	fake.FailNext(processortest.OpCreateCustomer, fmt.Errorf("%w: timeout", processor.ErrUnavailable))

	_, err := svc.ResolveCustomer(context.Background(), principal)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	row, err := svc.Get(context.Background(), principal.ID)
	require.NoError(t, err)
	assert.Nil(t, row, "nothing persisted on processor failure")

	id, err := svc.ResolveCustomer(context.Background(), principal)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPayoutAccountLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	solver := Principal{ID: uuid.New(), Type: enums.PrincipalUser, Email: "solver@example.test"}

	customerID, err := svc.ResolveCustomer(ctx, solver)
	require.NoError(t, err)

	link, err := svc.CreateOnboardingLink(ctx, solver)
	require.NoError(t, err)
	assert.Contains(t, link.URL, "acct_")

	row, err := svc.Get(ctx, solver.ID)
	require.NoError(t, err)
	require.NotNil(t, row.PayoutAccountID)
	assert.Equal(t, customerID, *row.CustomerID, "payout account shares the existing row")
	assert.False(t, row.PayoutTransfersEnabled, "new accounts cannot receive transfers")

	found, err := svc.SetPayoutCapability(ctx, nil, *row.PayoutAccountID, true, true)
	require.NoError(t, err)
	assert.True(t, found)

	row, err = svc.Get(ctx, solver.ID)
	require.NoError(t, err)
	assert.True(t, row.PayoutTransfersEnabled)

	found, err = svc.SetPayoutCapability(ctx, nil, "acct_unknown", true, true)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.DisconnectPayoutAccount(ctx, solver.ID))
	row, err = svc.Get(ctx, solver.ID)
	require.NoError(t, err)
	assert.Nil(t, row.PayoutAccountID)
	assert.False(t, row.PayoutTransfersEnabled)
	require.NotNil(t, row.CustomerID, "customer mapping survives disconnection")
}

func TestDisconnectUnknownPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.DisconnectPayoutAccount(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Processor: processortest.New()})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: &Repository{}})
	assert.Error(t, err)
}
