package enums

import "testing"

func TestFundingStateTerminal(t *testing.T) {
	cases := map[FundingState]bool{
		FundingStateUnfunded: false,
		FundingStateHeld:     false,
		FundingStateReleased: true,
		FundingStateRefunded: true,
	}
	for state, want := range cases {
		if got := state.IsTerminal(); got != want {
			t.Fatalf("%s: expected terminal=%v got %v", state, want, got)
		}
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParseFundingState("escrowed"); err == nil {
		t.Fatalf("expected error for unknown funding state")
	}
	if _, err := ParsePlanTier("enterprise"); err == nil {
		t.Fatalf("expected error for unknown plan tier")
	}
	if _, err := ParsePrincipalType("team"); err == nil {
		t.Fatalf("expected error for unknown principal type")
	}
	if got, err := ParsePlanTier("past_due"); err != nil || got != PlanPastDue {
		t.Fatalf("expected past_due, got %q err=%v", got, err)
	}
}
