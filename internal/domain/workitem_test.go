package domain

import "testing"

// TestPriorityRank verifies the ordering used for escalation checks and
// that unknown values sink below low.
func TestPriorityRank(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{PriorityUrgent, 4},
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority(""), 0},
		{Priority("asap"), 0},
	}
	for _, tc := range cases {
		if got := tc.p.Rank(); got != tc.want {
			t.Errorf("Rank(%q) = %d, want %d", tc.p, got, tc.want)
		}
	}
}

// TestHasLabel verifies case-insensitive label matching.
func TestHasLabel(t *testing.T) {
	item := WorkItem{Labels: []string{"Urgent", "backend"}}

	if !item.HasLabel("urgent") {
		t.Error("case-insensitive match failed")
	}
	if !item.HasLabel("backend") {
		t.Error("exact match failed")
	}
	if item.HasLabel("frontend") {
		t.Error("absent label matched")
	}
	if (WorkItem{}).HasLabel("urgent") {
		t.Error("empty label set matched")
	}
}

// TestTriggerStateTerminal verifies fired and cancelled are terminal.
func TestTriggerStateTerminal(t *testing.T) {
	if TriggerStatePending.Terminal() {
		t.Error("pending reported terminal")
	}
	if !TriggerStateFired.Terminal() || !TriggerStateCancelled.Terminal() {
		t.Error("fired or cancelled not reported terminal")
	}
}

// TestAllPassed verifies the vacuous pass on an empty guardrail list.
func TestAllPassed(t *testing.T) {
	if !AllPassed(nil) {
		t.Error("empty list should pass")
	}
	if !AllPassed([]GuardrailCheck{{Name: "ci_passing", Passed: true}}) {
		t.Error("all-passing list failed")
	}
	if AllPassed([]GuardrailCheck{{Name: "ci_passing", Passed: true}, {Name: "not_blocked", Passed: false}}) {
		t.Error("failing list passed")
	}
}
