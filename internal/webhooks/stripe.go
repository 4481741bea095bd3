package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

// StripeSignatureHeader is the header Stripe signs deliveries with.
const StripeSignatureHeader = "Stripe-Signature"

var stripeKinds = map[stripe.EventType]Kind{
	stripe.EventTypePaymentIntentSucceeded:      KindIntentSucceeded,
	stripe.EventTypePaymentIntentPaymentFailed:  KindIntentFailed,
	stripe.EventTypePaymentIntentCanceled:       KindIntentCanceled,
	stripe.EventTypeInvoicePaymentFailed:        KindRecurringChargeFailed,
	stripe.EventTypeInvoicePaid:                 KindRecurringChargeSucceeded,
	stripe.EventTypeCustomerSubscriptionCreated: KindSubscriptionCreated,
	stripe.EventTypeCustomerSubscriptionDeleted: KindSubscriptionCanceled,
	stripe.EventTypeAccountUpdated:              KindPayoutAccountUpdated,
}

// HandleStripe verifies a native Stripe delivery and feeds it through Apply.
func (r *Reconciler) HandleStripe(ctx context.Context, body []byte, signature string) (Outcome, error) {
	source := enums.WebhookSourceStripe
	if r.stripeSecret == "" {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhooks not configured")
	}
	if strings.TrimSpace(signature) == "" {
		return r.rejectSignature(ctx, source, ErrSignatureInvalid)
	}
	native, err := webhook.ConstructEventWithOptions(body, signature, r.stripeSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return r.rejectSignature(ctx, source, err)
	}
	event, err := FromStripe(&native)
	if err != nil {
		return r.rejectMalformed(ctx, source, err)
	}
	return r.Apply(ctx, source, event)
}

// FromStripe translates a native Stripe event into the reconciler's Event.
// Types outside the handled set become KindUnknown.
func FromStripe(native *stripe.Event) (*Event, error) {
	if native == nil || strings.TrimSpace(native.ID) == "" {
		return nil, fmt.Errorf("%w: stripe event id missing", ErrMalformed)
	}
	event := &Event{
		ID:   native.ID,
		Name: string(native.Type),
		Kind: KindUnknown,
	}
	kind, ok := stripeKinds[native.Type]
	if !ok || native.Data == nil {
		return event, nil
	}
	event.Kind = kind

	switch kind {
	case KindIntentSucceeded, KindIntentFailed, KindIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(native.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrMalformed, err)
		}
		event.Data = EventData{
			ObjectID:         intent.ID,
			Metadata:         intent.Metadata,
			AmountMinorUnits: intent.Amount,
			Currency:         string(intent.Currency),
			FailureReason:    intentFailureReason(&intent),
		}
	case KindPayoutAccountUpdated:
		var account stripe.Account
		if err := json.Unmarshal(native.Data.Raw, &account); err != nil {
			return nil, fmt.Errorf("%w: account: %v", ErrMalformed, err)
		}
		transfers := account.PayoutsEnabled
		if account.Capabilities != nil {
			transfers = account.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
		}
		event.Data = EventData{
			ObjectID:         account.ID,
			AccountID:        account.ID,
			Metadata:         account.Metadata,
			TransfersEnabled: transfers,
			DetailsSubmitted: account.DetailsSubmitted,
		}
	case KindRecurringChargeFailed, KindRecurringChargeSucceeded:
		obj := object(native.Data.Object)
		subscriptionID := obj.str("subscription")
		if subscriptionID == "" {
			subscriptionID = obj.str("parent", "subscription_details", "subscription")
		}
		event.Data = EventData{
			ObjectID:       obj.str("id"),
			SubscriptionID: subscriptionID,
			AttemptCount:   int(obj.num("attempt_count")),
			Metadata:       obj.metadata("metadata"),
			PeriodEnd:      obj.unix("lines", "data", "0", "period", "end"),
		}
	case KindSubscriptionCreated, KindSubscriptionCanceled:
		obj := object(native.Data.Object)
		metadata := obj.metadata("metadata")
		periodEnd := obj.unix("current_period_end")
		if periodEnd == nil {
			periodEnd = obj.unix("items", "data", "0", "current_period_end")
		}
		event.Data = EventData{
			ObjectID:       obj.str("id"),
			SubscriptionID: obj.str("id"),
			Metadata:       metadata,
			PeriodEnd:      periodEnd,
		}
	}
	return event, nil
}

func intentFailureReason(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	return string(intent.CancellationReason)
}

// object walks Stripe's untyped event payload without panicking on
// missing or mistyped nodes.
type object map[string]any

func (o object) lookup(path ...string) (any, bool) {
	var node any = map[string]any(o)
	for _, key := range path {
		switch current := node.(type) {
		case map[string]any:
			next, ok := current[key]
			if !ok {
				return nil, false
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(current) {
				return nil, false
			}
			node = current[idx]
		default:
			return nil, false
		}
	}
	return node, node != nil
}

func (o object) str(path ...string) string {
	v, ok := o.lookup(path...)
	if !ok {
		return ""
	}
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case map[string]any:
		// expanded object; fall back to its id
		if id, ok := value["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func (o object) num(path ...string) float64 {
	v, ok := o.lookup(path...)
	if !ok {
		return 0
	}
	if n, ok := v.(float64); ok {
		return n
	}
	return 0
}

func (o object) unix(path ...string) *time.Time {
	secs := int64(o.num(path...))
	if secs <= 0 {
		return nil
	}
	at := time.Unix(secs, 0).UTC()
	return &at
}

func (o object) metadata(path ...string) map[string]string {
	v, ok := o.lookup(path...)
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
}
