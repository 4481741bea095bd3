package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateBounty         OutboxAggregateType = "bounty"
	AggregateMembershipPlan OutboxAggregateType = "membership_plan"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBounty,
	AggregateMembershipPlan,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the event stored in outbox_events.
type OutboxEventType string

const (
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventNotificationRequested,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// NotificationKind tells the external dispatcher which template to render.
type NotificationKind string

const (
	NotificationFundingSucceeded NotificationKind = "funding_succeeded"
	NotificationPayoutReleased   NotificationKind = "payout_released"
	NotificationFundingRefunded  NotificationKind = "funding_refunded"
	NotificationPlanPastDue      NotificationKind = "plan_past_due"
	NotificationPlanCanceled     NotificationKind = "plan_canceled"
)

func (k NotificationKind) IsValid() bool {
	switch k {
	case NotificationFundingSucceeded, NotificationPayoutReleased, NotificationFundingRefunded,
		NotificationPlanPastDue, NotificationPlanCanceled:
		return true
	}
	return false
}

// OutboxDLQErrorReason explains why an outbox row stopped being retried.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
