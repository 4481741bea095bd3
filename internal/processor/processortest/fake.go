// Package processortest provides an in-memory processor.Client for tests.
package processortest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bountyhub/escrow/internal/processor"
)

// Operation names accepted by FailNext.
const (
	OpCreateCustomer       = "create_customer"
	OpCreatePayoutAccount  = "create_payout_account"
	OpGetPayoutAccount     = "get_payout_account"
	OpCreateOnboardingLink = "create_onboarding_link"
	OpCreateFundingIntent  = "create_funding_intent"
	OpGetFundingIntent     = "get_funding_intent"
	OpCreateTransfer       = "create_transfer"
	OpRefund               = "refund"
	OpGetBalance           = "get_balance"
	OpListTransfers        = "list_transfers"
	OpListCharges          = "list_charges"
)

// Fake mimics the processor: objects get sequential ids and repeated
// idempotency keys return the originally created object.
type Fake struct {
	mu sync.Mutex

	// CallDelay is slept (outside the lock) before each create call so
	// concurrent callers interleave.
	CallDelay time.Duration

	seq       int
	failures  map[string][]error
	calls     map[string]int
	byKey     map[string]any
	customers map[string]*processor.Customer
	accounts  map[string]*processor.PayoutAccount
	intents   map[string]*processor.FundingIntent
	transfers []processor.Transfer
	refunds   []processor.Refund
	charges   map[string][]processor.Charge
	balances  map[string]*processor.Balance
	now       func() time.Time
}

func New() *Fake {
	return &Fake{
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
		byKey:     make(map[string]any),
		customers: make(map[string]*processor.Customer),
		accounts:  make(map[string]*processor.PayoutAccount),
		intents:   make(map[string]*processor.FundingIntent),
		charges:   make(map[string][]processor.Charge),
		balances:  make(map[string]*processor.Balance),
		now:       time.Now,
	}
}

// FailNext queues err for the next call of op.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls reports how many times op was invoked (including failed calls).
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Transfers returns every transfer actually created.
func (f *Fake) Transfers() []processor.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]processor.Transfer, len(f.transfers))
	copy(out, f.transfers)
	return out
}

// Refunds returns every refund actually created.
func (f *Fake) Refunds() []processor.Refund {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]processor.Refund, len(f.refunds))
	copy(out, f.refunds)
	return out
}

// Customers reports how many distinct customers exist.
func (f *Fake) Customers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers)
}

// SetAccountCapability flips the processor-side view of an account.
func (f *Fake) SetAccountCapability(accountID string, transfersEnabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[accountID]; ok {
		acct.TransfersEnabled = transfersEnabled
		acct.DetailsSubmitted = transfersEnabled
	}
}

// SetBalance seeds the balance returned for accountID.
func (f *Fake) SetBalance(accountID string, balance processor.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[accountID] = &balance
}

// AddCharge seeds a charge for customerID.
func (f *Fake) AddCharge(customerID string, charge processor.Charge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[customerID] = append(f.charges[customerID], charge)
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	f.calls[op]++
	var err error
	if queued := f.failures[op]; len(queued) > 0 {
		err = queued[0]
		f.failures[op] = queued[1:]
	}
	delay := f.CallDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func (f *Fake) CreateCustomer(ctx context.Context, params processor.CustomerParams) (*processor.Customer, error) {
	if err := f.begin(OpCreateCustomer); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.byKey[params.IdempotencyKey].(*processor.Customer); ok && params.IdempotencyKey != "" {
		return prior, nil
	}
	c := &processor.Customer{ID: f.nextID("cus"), Email: params.Email}
	f.customers[c.ID] = c
	if params.IdempotencyKey != "" {
		f.byKey[params.IdempotencyKey] = c
	}
	return c, nil
}

func (f *Fake) CreatePayoutAccount(ctx context.Context, params processor.PayoutAccountParams) (*processor.PayoutAccount, error) {
	if err := f.begin(OpCreatePayoutAccount); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.byKey[params.IdempotencyKey].(*processor.PayoutAccount); ok && params.IdempotencyKey != "" {
		cp := *prior
		return &cp, nil
	}
	a := &processor.PayoutAccount{ID: f.nextID("acct")}
	f.accounts[a.ID] = a
	if params.IdempotencyKey != "" {
		f.byKey[params.IdempotencyKey] = a
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) GetPayoutAccount(ctx context.Context, accountID string) (*processor.PayoutAccount, error) {
	if err := f.begin(OpGetPayoutAccount); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, processor.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) CreateOnboardingLink(ctx context.Context, params processor.OnboardingLinkParams) (*processor.OnboardingLink, error) {
	if err := f.begin(OpCreateOnboardingLink); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[params.AccountID]; !ok {
		return nil, processor.ErrNotFound
	}
	return &processor.OnboardingLink{
		URL:       "https://connect.example.test/setup/" + params.AccountID,
		ExpiresAt: f.now().Add(5 * time.Minute),
	}, nil
}

func (f *Fake) CreateFundingIntent(ctx context.Context, params processor.FundingIntentParams) (*processor.FundingIntent, error) {
	if err := f.begin(OpCreateFundingIntent); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.byKey[params.IdempotencyKey].(*processor.FundingIntent); ok && params.IdempotencyKey != "" {
		cp := *prior
		return &cp, nil
	}
	id := f.nextID("pi")
	meta := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		meta[k] = v
	}
	intent := &processor.FundingIntent{
		ID:               id,
		ClientSecret:     id + "_secret",
		Status:           processor.IntentStatusRequiresPaymentMethod,
		AmountMinorUnits: params.AmountMinorUnits,
		Currency:         params.Currency,
		Metadata:         meta,
	}
	f.intents[id] = intent
	if params.IdempotencyKey != "" {
		f.byKey[params.IdempotencyKey] = intent
	}
	cp := *intent
	return &cp, nil
}

func (f *Fake) GetFundingIntent(ctx context.Context, intentID string) (*processor.FundingIntent, error) {
	if err := f.begin(OpGetFundingIntent); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, processor.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *Fake) CreateTransfer(ctx context.Context, params processor.TransferParams) (*processor.Transfer, error) {
	if err := f.begin(OpCreateTransfer); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.byKey[params.IdempotencyKey].(*processor.Transfer); ok && params.IdempotencyKey != "" {
		cp := *prior
		return &cp, nil
	}
	if _, ok := f.accounts[params.DestinationAccountID]; !ok {
		return nil, fmt.Errorf("%w: no such destination %s", processor.ErrRejected, params.DestinationAccountID)
	}
	t := processor.Transfer{
		ID:                   f.nextID("tr"),
		AmountMinorUnits:     params.AmountMinorUnits,
		Currency:             params.Currency,
		DestinationAccountID: params.DestinationAccountID,
		Metadata:             params.Metadata,
		Created:              f.now(),
	}
	f.transfers = append(f.transfers, t)
	if params.IdempotencyKey != "" {
		f.byKey[params.IdempotencyKey] = &t
	}
	return &t, nil
}

func (f *Fake) RefundFundingIntent(ctx context.Context, params processor.RefundParams) (*processor.Refund, error) {
	if err := f.begin(OpRefund); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.byKey[params.IdempotencyKey].(*processor.Refund); ok && params.IdempotencyKey != "" {
		return prior, nil
	}
	r := &processor.Refund{ID: f.nextID("re"), Status: "succeeded"}
	f.refunds = append(f.refunds, *r)
	if params.IdempotencyKey != "" {
		f.byKey[params.IdempotencyKey] = r
	}
	return r, nil
}

func (f *Fake) GetBalance(ctx context.Context, accountID string) (*processor.Balance, error) {
	if err := f.begin(OpGetBalance); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[accountID]; ok {
		cp := *b
		return &cp, nil
	}
	return &processor.Balance{}, nil
}

func (f *Fake) ListTransfers(ctx context.Context, accountID string, limit int) ([]processor.Transfer, error) {
	if err := f.begin(OpListTransfers); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []processor.Transfer{}
	for _, t := range f.transfers {
		if t.DestinationAccountID == accountID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) ListCharges(ctx context.Context, customerID string, limit int) ([]processor.Charge, error) {
	if err := f.begin(OpListCharges); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]processor.Charge(nil), f.charges[customerID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ processor.Client = (*Fake)(nil)
