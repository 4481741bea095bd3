// Package processor defines the payment processor port used by the escrow core.
// Adapters (pkg/stripe) translate vendor SDK calls and errors into these types.
package processor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks a transient or ambiguous failure (timeouts, 5xx,
	// rate limits). Callers may retry; the effect may or may not have happened.
	ErrUnavailable = errors.New("processor unavailable")
	// ErrRejected marks a definite refusal; the effect did not happen.
	ErrRejected = errors.New("processor rejected request")
	// ErrNotFound marks a missing processor object.
	ErrNotFound = errors.New("processor object not found")
)

// Metadata keys attached to processor objects.
const (
	MetadataPrincipalID   = "principal_id"
	MetadataPrincipalType = "principal_type"
	MetadataBountyID      = "bounty_id"
	MetadataSettlementID  = "settlement_id"
)

type CustomerParams struct {
	Email          string
	PrincipalID    string
	PrincipalType  string
	IdempotencyKey string
}

type Customer struct {
	ID    string
	Email string
}

type PayoutAccountParams struct {
	Email          string
	PrincipalID    string
	PrincipalType  string
	IdempotencyKey string
}

type PayoutAccount struct {
	ID               string
	TransfersEnabled bool
	DetailsSubmitted bool
}

type OnboardingLinkParams struct {
	AccountID  string
	RefreshURL string
	ReturnURL  string
}

type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

type FundingIntentParams struct {
	AmountMinorUnits int64
	Currency         string
	CustomerID       string
	Metadata         map[string]string
	IdempotencyKey   string
}

// IntentStatus mirrors the processor's view of a funding intent.
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

type FundingIntent struct {
	ID               string
	ClientSecret     string
	Status           IntentStatus
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
}

type TransferParams struct {
	AmountMinorUnits     int64
	Currency             string
	DestinationAccountID string
	// TransferGroup is the bounty id; the adapter maps it to the processor grouping.
	TransferGroup        string
	Metadata             map[string]string
	IdempotencyKey       string
}

type Transfer struct {
	ID                   string
	AmountMinorUnits     int64
	Currency             string
	DestinationAccountID string
	Metadata             map[string]string
	Created              time.Time
}

type RefundParams struct {
	IntentID       string
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Status string
}

// BalanceAmount is one currency bucket of an account balance.
type BalanceAmount struct {
	AmountMinorUnits int64
	Currency         string
}

type Balance struct {
	Available []BalanceAmount
	Pending   []BalanceAmount
}

type Charge struct {
	ID               string
	IntentID         string
	AmountMinorUnits int64
	Currency         string
	Status           string
	Refunded         bool
	Metadata         map[string]string
	Created          time.Time
}

// Client is the processor surface the escrow core depends on. Every call
// honors ctx cancellation; adapters bound each call with their own timeout.
type Client interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreatePayoutAccount(ctx context.Context, params PayoutAccountParams) (*PayoutAccount, error)
	GetPayoutAccount(ctx context.Context, accountID string) (*PayoutAccount, error)
	CreateOnboardingLink(ctx context.Context, params OnboardingLinkParams) (*OnboardingLink, error)
	CreateFundingIntent(ctx context.Context, params FundingIntentParams) (*FundingIntent, error)
	GetFundingIntent(ctx context.Context, intentID string) (*FundingIntent, error)
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)
	RefundFundingIntent(ctx context.Context, params RefundParams) (*Refund, error)
	GetBalance(ctx context.Context, accountID string) (*Balance, error)
	ListTransfers(ctx context.Context, accountID string, limit int) ([]Transfer, error)
	ListCharges(ctx context.Context, customerID string, limit int) ([]Charge, error)
}

// IsUnavailable reports whether err is a transient/ambiguous processor failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// IsRejected reports whether err is a definite processor refusal.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
