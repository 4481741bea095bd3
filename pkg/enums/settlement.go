package enums

import "fmt"

// SettlementKind distinguishes money leaving escrow toward the solver or back to the creator.
type SettlementKind string

const (
	SettlementRelease SettlementKind = "release"
	SettlementRefund  SettlementKind = "refund"
)

var validSettlementKinds = []SettlementKind{SettlementRelease, SettlementRefund}

func (k SettlementKind) IsValid() bool {
	for _, candidate := range validSettlementKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// SettlementStatus tracks a single release/refund attempt.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSucceeded SettlementStatus = "succeeded"
	SettlementFailed    SettlementStatus = "failed"
	// SettlementUnknown means the processor call ended without a definite answer.
	SettlementUnknown SettlementStatus = "unknown"
)

var validSettlementStatuses = []SettlementStatus{
	SettlementPending,
	SettlementSucceeded,
	SettlementFailed,
	SettlementUnknown,
}

func (s SettlementStatus) IsValid() bool {
	for _, candidate := range validSettlementStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementStatus converts raw input into a SettlementStatus.
func ParseSettlementStatus(value string) (SettlementStatus, error) {
	for _, candidate := range validSettlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement status %q", value)
}
