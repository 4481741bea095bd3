package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/bountyhub/escrow/internal/processor"
)

var _ processor.Client = (*Client)(nil)

func (c *Client) CreateCustomer(ctx context.Context, in processor.CustomerParams) (*processor.Customer, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(in.Email),
		Metadata: map[string]string{
			processor.MetadataPrincipalID:   in.PrincipalID,
			processor.MetadataPrincipalType: in.PrincipalType,
		},
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)
	c.log(ctx, "request", "create_customer", map[string]any{"principal_id": in.PrincipalID, "email": in.Email})

	cust, err := c.api.V1Customers.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_customer", err)
	}
	c.log(ctx, "response", "create_customer", map[string]any{"customer_id": cust.ID})
	return &processor.Customer{ID: cust.ID, Email: cust.Email}, nil
}

func (c *Client) CreatePayoutAccount(ctx context.Context, in processor.PayoutAccountParams) (*processor.PayoutAccount, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.AccountCreateParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(in.Email),
		Capabilities: &stripe.AccountCreateCapabilitiesParams{
			CardPayments: &stripe.AccountCreateCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCreateCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
		Metadata: map[string]string{
			processor.MetadataPrincipalID:   in.PrincipalID,
			processor.MetadataPrincipalType: in.PrincipalType,
		},
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)
	c.log(ctx, "request", "create_account", map[string]any{"principal_id": in.PrincipalID})

	acct, err := c.api.V1Accounts.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_account", err)
	}
	c.log(ctx, "response", "create_account", map[string]any{"account_id": acct.ID})
	return toPayoutAccount(acct), nil
}

func (c *Client) GetPayoutAccount(ctx context.Context, accountID string) (*processor.PayoutAccount, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	acct, err := c.api.V1Accounts.GetByID(ctx, accountID, &stripe.AccountRetrieveParams{})
	if err != nil {
		return nil, c.fail(ctx, "get_account", err)
	}
	return toPayoutAccount(acct), nil
}

func (c *Client) CreateOnboardingLink(ctx context.Context, in processor.OnboardingLinkParams) (*processor.OnboardingLink, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.AccountLinkCreateParams{
		Account:    stripe.String(in.AccountID),
		RefreshURL: stripe.String(in.RefreshURL),
		ReturnURL:  stripe.String(in.ReturnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	c.log(ctx, "request", "create_account_link", map[string]any{"account_id": in.AccountID})

	link, err := c.api.V1AccountLinks.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_account_link", err)
	}
	return &processor.OnboardingLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
}

func (c *Client) CreateFundingIntent(ctx context.Context, in processor.FundingIntentParams) (*processor.FundingIntent, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(in.AmountMinorUnits),
		Currency: stripe.String(in.Currency),
		Customer: stripe.String(in.CustomerID),
		Metadata: in.Metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if group := in.Metadata[processor.MetadataBountyID]; group != "" {
		params.TransferGroup = stripe.String(transferGroup(group))
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)
	c.log(ctx, "request", "create_payment_intent", map[string]any{
		"customer_id": in.CustomerID,
		"amount":      in.AmountMinorUnits,
		"currency":    in.Currency,
		"bounty_id":   in.Metadata[processor.MetadataBountyID],
	})

	pi, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_payment_intent", err)
	}
	c.log(ctx, "response", "create_payment_intent", map[string]any{"intent_id": pi.ID, "status": string(pi.Status)})
	return toFundingIntent(pi), nil
}

func (c *Client) GetFundingIntent(ctx context.Context, intentID string) (*processor.FundingIntent, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	pi, err := c.api.V1PaymentIntents.Retrieve(ctx, intentID, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, c.fail(ctx, "get_payment_intent", err)
	}
	return toFundingIntent(pi), nil
}

func (c *Client) CreateTransfer(ctx context.Context, in processor.TransferParams) (*processor.Transfer, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.TransferCreateParams{
		Amount:      stripe.Int64(in.AmountMinorUnits),
		Currency:    stripe.String(in.Currency),
		Destination: stripe.String(in.DestinationAccountID),
		Metadata:    in.Metadata,
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(transferGroup(in.TransferGroup))
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)
	c.log(ctx, "request", "create_transfer", map[string]any{
		"destination": in.DestinationAccountID,
		"amount":      in.AmountMinorUnits,
		"currency":    in.Currency,
	})

	tr, err := c.api.V1Transfers.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_transfer", err)
	}
	c.log(ctx, "response", "create_transfer", map[string]any{"transfer_id": tr.ID})
	return toTransfer(tr), nil
}

func (c *Client) RefundFundingIntent(ctx context.Context, in processor.RefundParams) (*processor.Refund, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.RefundCreateParams{PaymentIntent: stripe.String(in.IntentID)}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)
	c.log(ctx, "request", "create_refund", map[string]any{"intent_id": in.IntentID})

	r, err := c.api.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "create_refund", err)
	}
	c.log(ctx, "response", "create_refund", map[string]any{"refund_id": r.ID, "status": string(r.Status)})
	return &processor.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (*processor.Balance, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.BalanceRetrieveParams{}
	params.SetStripeAccount(accountID)
	b, err := c.api.V1Balance.Retrieve(ctx, params)
	if err != nil {
		return nil, c.fail(ctx, "get_balance", err)
	}
	return &processor.Balance{
		Available: toBalanceAmounts(b.Available),
		Pending:   toBalanceAmounts(b.Pending),
	}, nil
}

func (c *Client) ListTransfers(ctx context.Context, accountID string, limit int) ([]processor.Transfer, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.TransferListParams{Destination: stripe.String(accountID)}
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	out := []processor.Transfer{}
	for tr, err := range c.api.V1Transfers.List(ctx, params) {
		if err != nil {
			return nil, c.fail(ctx, "list_transfers", err)
		}
		out = append(out, *toTransfer(tr))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *Client) ListCharges(ctx context.Context, customerID string, limit int) ([]processor.Charge, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	out := []processor.Charge{}
	for ch, err := range c.api.V1Charges.List(ctx, params) {
		if err != nil {
			return nil, c.fail(ctx, "list_charges", err)
		}
		item := processor.Charge{
			ID:               ch.ID,
			AmountMinorUnits: ch.Amount,
			Currency:         string(ch.Currency),
			Status:           string(ch.Status),
			Refunded:         ch.Refunded,
			Metadata:         ch.Metadata,
			Created:          time.Unix(ch.Created, 0).UTC(),
		}
		if ch.PaymentIntent != nil {
			item.IntentID = ch.PaymentIntent.ID
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := defaultCallTimeout
	if c != nil && c.timeout > 0 {
		timeout = c.timeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := mapStripeError(op, err)
	c.log(ctx, "error", op, map[string]any{"error": mapped.Error()})
	return mapped
}

// mapStripeError folds Stripe failures into the processor taxonomy. Anything
// that is not a structured API refusal (network, timeout, 5xx, 429) is treated
// as unavailable because the request may or may not have been applied.
func mapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: stripe %s: %s", processor.ErrUnavailable, op, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusNotFound,
			stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: stripe %s: %s", processor.ErrNotFound, op, stripeErr.Msg)
		default:
			return fmt.Errorf("%w: stripe %s: %s", processor.ErrRejected, op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%w: stripe %s: %v", processor.ErrUnavailable, op, err)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Warn(ctx, fmt.Sprintf("stripe %s failed", op))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("stripe %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "email", "card"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func setIdempotencyKey(params *stripe.Params, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	params.SetIdempotencyKey(key)
}

func transferGroup(bountyID string) string {
	return "bounty_" + bountyID
}

func toPayoutAccount(acct *stripe.Account) *processor.PayoutAccount {
	if acct == nil {
		return nil
	}
	out := &processor.PayoutAccount{
		ID:               acct.ID,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
	if acct.Capabilities != nil {
		out.TransfersEnabled = acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
	}
	return out
}

func toFundingIntent(pi *stripe.PaymentIntent) *processor.FundingIntent {
	return &processor.FundingIntent{
		ID:               pi.ID,
		ClientSecret:     pi.ClientSecret,
		Status:           processor.IntentStatus(pi.Status),
		AmountMinorUnits: pi.Amount,
		Currency:         string(pi.Currency),
		Metadata:         pi.Metadata,
	}
}

func toTransfer(tr *stripe.Transfer) *processor.Transfer {
	out := &processor.Transfer{
		ID:               tr.ID,
		AmountMinorUnits: tr.Amount,
		Currency:         string(tr.Currency),
		Metadata:         tr.Metadata,
		Created:          time.Unix(tr.Created, 0).UTC(),
	}
	if tr.Destination != nil {
		out.DestinationAccountID = tr.Destination.ID
	}
	return out
}

func toBalanceAmounts(in []*stripe.BalanceAmount) []processor.BalanceAmount {
	out := make([]processor.BalanceAmount, 0, len(in))
	for _, amt := range in {
		if amt == nil {
			continue
		}
		out = append(out, processor.BalanceAmount{AmountMinorUnits: amt.Amount, Currency: string(amt.Currency)})
	}
	return out
}
