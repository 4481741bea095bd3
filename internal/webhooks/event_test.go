package webhooks

import (
	"strings"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"intent.succeeded":         KindIntentSucceeded,
		" Intent.Failed ":          KindIntentFailed,
		"recurring_charge.failed":  KindRecurringChargeFailed,
		"payout_account.updated":   KindPayoutAccountUpdated,
		"customer.discount.create": KindUnknown,
		"":                         KindUnknown,
	}
	for name, want := range cases {
		if got := ParseKind(name); got != want {
			t.Fatalf("ParseKind(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestParseEventIDFallbacks(t *testing.T) {
	event, err := Parse([]byte(`{"id":"evt_1","event":"intent.succeeded","data":{"eventId":"evt_data"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("expected top-level id, got %q", event.ID)
	}

	event, err = Parse([]byte(`{"event":"intent.succeeded","data":{"eventId":"evt_data"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.ID != "evt_data" {
		t.Fatalf("expected data.eventId, got %q", event.ID)
	}

	body := []byte(`{"event":"intent.succeeded","data":{"id":"pi_1"}}`)
	first, err := Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	second, _ := Parse(body)
	if !strings.HasPrefix(first.ID, "sha256:") || first.ID != second.ID {
		t.Fatalf("expected stable digest id, got %q and %q", first.ID, second.ID)
	}
}

func TestParseKeepsOnlyStringMetadata(t *testing.T) {
	event, err := Parse([]byte(`{"id":"evt_1","event":"intent.succeeded","data":{"id":"pi_1","amount":500,"currency":"usd","metadata":{"bounty_id":"B1","principal_id":42,"nested":{"a":"b"}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Data.Metadata["bounty_id"] != "B1" {
		t.Fatalf("expected bounty_id kept, got %v", event.Data.Metadata)
	}
	if _, ok := event.Data.Metadata["principal_id"]; ok {
		t.Fatalf("expected non-string principal_id dropped")
	}
	if event.Data.AmountMinorUnits != 500 || event.Data.ObjectID != "pi_1" {
		t.Fatalf("unexpected data: %+v", event.Data)
	}
}

func TestParseGarbledMetadataIsDropped(t *testing.T) {
	event, err := Parse([]byte(`{"id":"evt_1","event":"intent.succeeded","data":{"metadata":"nope"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Data.Metadata != nil {
		t.Fatalf("expected nil metadata, got %v", event.Data.Metadata)
	}
}

func TestParsePeriodEnd(t *testing.T) {
	event, err := Parse([]byte(`{"id":"evt_1","event":"subscription.created","data":{"subscriptionId":"sub_1","periodEnd":1767225600}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Data.PeriodEnd == nil || event.Data.PeriodEnd.Unix() != 1767225600 {
		t.Fatalf("unexpected period end: %v", event.Data.PeriodEnd)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"id":"evt_1"}`, `{"event":"  "}`, `{"event":"intent.succeeded","data":[1]}`} {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}
