package enums

import "fmt"

// FundingIntentStatus mirrors the processor-side lifecycle of a funding intent.
type FundingIntentStatus string

const (
	FundingIntentCreated        FundingIntentStatus = "created"
	FundingIntentRequiresAction FundingIntentStatus = "requires_action"
	FundingIntentSucceeded      FundingIntentStatus = "succeeded"
	FundingIntentFailed         FundingIntentStatus = "failed"
	FundingIntentCanceled       FundingIntentStatus = "canceled"
)

var validFundingIntentStatuses = []FundingIntentStatus{
	FundingIntentCreated,
	FundingIntentRequiresAction,
	FundingIntentSucceeded,
	FundingIntentFailed,
	FundingIntentCanceled,
}

func (s FundingIntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FundingIntentStatus.
func (s FundingIntentStatus) IsValid() bool {
	for _, candidate := range validFundingIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFundingIntentStatus converts raw input into a FundingIntentStatus.
func ParseFundingIntentStatus(value string) (FundingIntentStatus, error) {
	for _, candidate := range validFundingIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding intent status %q", value)
}

// FundingState is the escrow state of a bounty.
type FundingState string

const (
	FundingStateUnfunded FundingState = "unfunded"
	FundingStateHeld     FundingState = "held"
	FundingStateReleased FundingState = "released"
	FundingStateRefunded FundingState = "refunded"
)

var validFundingStates = []FundingState{
	FundingStateUnfunded,
	FundingStateHeld,
	FundingStateReleased,
	FundingStateRefunded,
}

func (s FundingState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FundingState.
func (s FundingState) IsValid() bool {
	for _, candidate := range validFundingStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s FundingState) IsTerminal() bool {
	return s == FundingStateReleased || s == FundingStateRefunded
}

// ParseFundingState converts raw input into a FundingState.
func ParseFundingState(value string) (FundingState, error) {
	for _, candidate := range validFundingStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding state %q", value)
}
