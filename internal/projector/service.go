// Package projector serves read-only balance and activity views assembled
// from the processor and local settlement records.
package projector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/pkg/db/models"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/pagination"
)

const (
	ActivityTransfer = "transfer"
	ActivityCharge   = "charge"

	defaultCurrency = "usd"
)

// zero-decimal currencies per the processor's currency table
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type Balance struct {
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Total     int64  `json:"total"`
	Currency  string `json:"currency"`
}

type ActivityItem struct {
	Kind          string    `json:"kind"`
	ID            string    `json:"id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	BountyID      string    `json:"bountyId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	DisplayAmount string    `json:"displayAmount"`
}

type ActivityPage struct {
	Items   []ActivityItem `json:"items"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"hasMore"`
}

type identityReader interface {
	Get(ctx context.Context, principalID uuid.UUID) (*models.BillingIdentity, error)
}

type localRecords interface {
	ListSettlementsForRecipient(ctx context.Context, principalID uuid.UUID) ([]models.Settlement, error)
	ListIntentsForPrincipal(ctx context.Context, principalID uuid.UUID) ([]models.FundingIntent, error)
}

type processorReader interface {
	GetBalance(ctx context.Context, accountID string) (*processor.Balance, error)
	ListTransfers(ctx context.Context, accountID string, limit int) ([]processor.Transfer, error)
	ListCharges(ctx context.Context, customerID string, limit int) ([]processor.Charge, error)
}

type Service interface {
	GetBalance(ctx context.Context, principal identity.Principal) (*Balance, error)
	GetActivity(ctx context.Context, principal identity.Principal, page, limit int) (*ActivityPage, error)
}

// BalanceCache bounds cached balances by entry count and age.
type BalanceCache = lru.LRU[uuid.UUID, Balance]

func NewBalanceCache(size int, ttl time.Duration) *BalanceCache {
	if size <= 0 {
		size = 1
	}
	return lru.NewLRU[uuid.UUID, Balance](size, nil, ttl)
}

type ServiceParams struct {
	Identities identityReader
	Records    localRecords
	Processor  processorReader
	// Cache is optional; nil reads through to the processor every time.
	Cache    *BalanceCache
	Currency string
}

type service struct {
	identities identityReader
	records    localRecords
	processor  processorReader
	cache      *BalanceCache
	currency   string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Identities == nil {
		return nil, fmt.Errorf("identity service required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("funding records required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor client required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &service{
		identities: params.Identities,
		records:    params.Records,
		processor:  params.Processor,
		cache:      params.Cache,
		currency:   currency,
	}, nil
}

// GetBalance passes the payout account balance through. A principal without
// a payout account gets a zeroed balance.
func (s *service) GetBalance(ctx context.Context, principal identity.Principal) (*Balance, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(principal.ID); ok {
			return &cached, nil
		}
	}

	row, err := s.identities.Get(ctx, principal.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing identity")
	}
	if row == nil || row.PayoutAccountID == nil || *row.PayoutAccountID == "" {
		return &Balance{Currency: s.currency}, nil
	}

	raw, err := s.processor.GetBalance(ctx, *row.PayoutAccountID)
	if err != nil {
		return nil, processor.Classify(err, "balance unavailable")
	}
	balance := s.fold(raw)
	if s.cache != nil {
		s.cache.Add(principal.ID, balance)
	}
	return &balance, nil
}

// fold sums the buckets in the reporting currency, falling back to the first
// currency the processor reports when the configured one is absent.
func (s *service) fold(raw *processor.Balance) Balance {
	currency := s.currency
	if raw != nil && !hasCurrency(raw, currency) {
		for _, bucket := range append(append([]processor.BalanceAmount{}, raw.Available...), raw.Pending...) {
			if bucket.Currency != "" {
				currency = strings.ToLower(bucket.Currency)
				break
			}
		}
	}
	out := Balance{Currency: currency}
	if raw == nil {
		return out
	}
	for _, bucket := range raw.Available {
		if strings.EqualFold(bucket.Currency, currency) {
			out.Available += bucket.AmountMinorUnits
		}
	}
	for _, bucket := range raw.Pending {
		if strings.EqualFold(bucket.Currency, currency) {
			out.Pending += bucket.AmountMinorUnits
		}
	}
	out.Total = out.Available + out.Pending
	return out
}

func hasCurrency(raw *processor.Balance, currency string) bool {
	for _, bucket := range raw.Available {
		if strings.EqualFold(bucket.Currency, currency) {
			return true
		}
	}
	for _, bucket := range raw.Pending {
		if strings.EqualFold(bucket.Currency, currency) {
			return true
		}
	}
	return false
}

// GetActivity merges received transfers and made charges, newest first.
// Page numbers start at 1.
func (s *service) GetActivity(ctx context.Context, principal identity.Principal, page, limit int) (*ActivityPage, error) {
	page = pagination.NormalizePage(page)
	limit = pagination.NormalizeLimit(limit)
	out := &ActivityPage{Items: []ActivityItem{}, Page: page, Limit: limit}

	row, err := s.identities.Get(ctx, principal.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing identity")
	}
	if row == nil {
		return out, nil
	}

	window := pagination.FetchWindow(page, limit)
	var items []ActivityItem

	if row.PayoutAccountID != nil && *row.PayoutAccountID != "" {
		transfers, err := s.processor.ListTransfers(ctx, *row.PayoutAccountID, window)
		if err != nil {
			return nil, processor.Classify(err, "activity unavailable")
		}
		settlements, err := s.records.ListSettlementsForRecipient(ctx, principal.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlements")
		}
		byRef := make(map[string]string, len(settlements))
		for _, settlement := range settlements {
			if settlement.ProcessorRef != nil {
				byRef[*settlement.ProcessorRef] = settlement.BountyID
			}
		}
		for _, transfer := range transfers {
			bountyID := transfer.Metadata[processor.MetadataBountyID]
			if bountyID == "" {
				bountyID = byRef[transfer.ID]
			}
			items = append(items, newItem(ActivityTransfer, transfer.ID, transfer.AmountMinorUnits, transfer.Currency, bountyID, transfer.Created))
		}
	}

	if row.CustomerID != nil && *row.CustomerID != "" {
		charges, err := s.processor.ListCharges(ctx, *row.CustomerID, window)
		if err != nil {
			return nil, processor.Classify(err, "activity unavailable")
		}
		intents, err := s.records.ListIntentsForPrincipal(ctx, principal.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load funding intents")
		}
		byIntent := make(map[string]string, len(intents))
		for _, intent := range intents {
			byIntent[intent.IntentID] = intent.BountyID
		}
		for _, charge := range charges {
			bountyID := charge.Metadata[processor.MetadataBountyID]
			if bountyID == "" {
				bountyID = byIntent[charge.IntentID]
			}
			items = append(items, newItem(ActivityCharge, charge.ID, charge.AmountMinorUnits, charge.Currency, bountyID, charge.Created))
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})

	start, end, more := pagination.Bounds(len(items), page, limit)
	if end > start {
		out.Items = items[start:end]
	}
	out.HasMore = more
	return out, nil
}

func newItem(kind, id string, amount int64, currency, bountyID string, created time.Time) ActivityItem {
	currency = strings.ToLower(currency)
	return ActivityItem{
		Kind:          kind,
		ID:            id,
		Amount:        amount,
		Currency:      currency,
		BountyID:      bountyID,
		CreatedAt:     created.UTC(),
		DisplayAmount: FormatAmount(amount, currency),
	}
}

// FormatAmount renders minor units as a major-unit decimal string.
func FormatAmount(amount int64, currency string) string {
	if zeroDecimal[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount).StringFixed(0)
	}
	return decimal.NewFromInt(amount).Shift(-2).StringFixed(2)
}
