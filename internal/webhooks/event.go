package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed marks a payload that cannot be parsed into an Event.
var ErrMalformed = errors.New("malformed webhook payload")

// Kind is the closed set of processor notifications the reconciler understands.
// Anything else parses to KindUnknown and is acknowledged without effect.
type Kind string

const (
	KindUnknown                  Kind = "unknown"
	KindIntentSucceeded          Kind = "intent.succeeded"
	KindIntentFailed             Kind = "intent.failed"
	KindIntentCanceled           Kind = "intent.canceled"
	KindRecurringChargeFailed    Kind = "recurring_charge.failed"
	KindRecurringChargeSucceeded Kind = "recurring_charge.succeeded"
	KindSubscriptionCreated      Kind = "subscription.created"
	KindSubscriptionCanceled     Kind = "subscription.canceled"
	KindPayoutAccountUpdated     Kind = "payout_account.updated"
)

var knownKinds = map[string]Kind{
	string(KindIntentSucceeded):          KindIntentSucceeded,
	string(KindIntentFailed):             KindIntentFailed,
	string(KindIntentCanceled):           KindIntentCanceled,
	string(KindRecurringChargeFailed):    KindRecurringChargeFailed,
	string(KindRecurringChargeSucceeded): KindRecurringChargeSucceeded,
	string(KindSubscriptionCreated):      KindSubscriptionCreated,
	string(KindSubscriptionCanceled):     KindSubscriptionCanceled,
	string(KindPayoutAccountUpdated):     KindPayoutAccountUpdated,
}

// ParseKind maps a wire event name onto a Kind.
func ParseKind(name string) Kind {
	if kind, ok := knownKinds[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return KindUnknown
}

// Event is a verified, parsed processor notification.
type Event struct {
	ID   string
	Name string
	Kind Kind
	Data EventData
}

// EventData carries every field any handler reads. Metadata keeps only string
// values; anything garbled is dropped so handlers see it as missing.
type EventData struct {
	ObjectID         string
	SubscriptionID   string
	AttemptCount     int
	Metadata         map[string]string
	AmountMinorUnits int64
	Currency         string
	PeriodEnd        *time.Time
	AccountID        string
	TransfersEnabled bool
	DetailsSubmitted bool
	PrincipalID      string
	FailureReason    string
}

type wireEvent struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wireData struct {
	ID               string          `json:"id"`
	EventID          string          `json:"eventId"`
	SubscriptionID   string          `json:"subscriptionId"`
	AttemptCount     int             `json:"attemptCount"`
	Metadata         json.RawMessage `json:"metadata"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	PeriodEnd        int64           `json:"periodEnd"`
	AccountID        string          `json:"accountId"`
	TransfersEnabled bool            `json:"transfersEnabled"`
	DetailsSubmitted bool            `json:"detailsSubmitted"`
	PrincipalID      string          `json:"principalId"`
	FailureReason    string          `json:"failureReason"`
}

// Parse decodes a verified body. The event id comes from the top-level id,
// then data.eventId, then a digest of the raw body.
func Parse(body []byte) (*Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	name := strings.TrimSpace(wire.Event)
	if name == "" {
		return nil, fmt.Errorf("%w: event is required", ErrMalformed)
	}

	var data wireData
	if len(wire.Data) > 0 && string(wire.Data) != "null" {
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
	}

	id := strings.TrimSpace(wire.ID)
	if id == "" {
		id = strings.TrimSpace(data.EventID)
	}
	if id == "" {
		sum := sha256.Sum256(body)
		id = "sha256:" + hex.EncodeToString(sum[:])
	}

	event := &Event{
		ID:   id,
		Name: name,
		Kind: ParseKind(name),
		Data: EventData{
			ObjectID:         strings.TrimSpace(data.ID),
			SubscriptionID:   strings.TrimSpace(data.SubscriptionID),
			AttemptCount:     data.AttemptCount,
			Metadata:         stringMetadata(data.Metadata),
			AmountMinorUnits: data.Amount,
			Currency:         strings.TrimSpace(data.Currency),
			AccountID:        strings.TrimSpace(data.AccountID),
			TransfersEnabled: data.TransfersEnabled,
			DetailsSubmitted: data.DetailsSubmitted,
			PrincipalID:      strings.TrimSpace(data.PrincipalID),
			FailureReason:    strings.TrimSpace(data.FailureReason),
		},
	}
	if data.PeriodEnd > 0 {
		end := time.Unix(data.PeriodEnd, 0).UTC()
		event.Data.PeriodEnd = &end
	}
	return event, nil
}

func stringMetadata(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil
	}
	out := make(map[string]string, len(loose))
	for key, value := range loose {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
}
