package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{VaultStatusDraft, VaultStatusPreICO, true},
		{VaultStatusPreICO, VaultStatusICO, true},
		{VaultStatusICO, VaultStatusPending, true},
		{VaultStatusICO, VaultStatusRefundRequired, true},
		{VaultStatusPending, VaultStatusPrelaunch, true},
		{VaultStatusPrelaunch, VaultStatusActive, true},
		{VaultStatusActive, VaultStatusWinnerConfirmation, true},
		{VaultStatusActive, VaultStatusEndgameProcessing, true},
		{VaultStatusWinnerConfirmation, VaultStatusEndgameProcessing, true},
		{VaultStatusEndgameProcessing, VaultStatusCompleted, true},
		{VaultStatusEndgameProcessing, VaultStatusExtinct, true},
		{VaultStatusRefundRequired, VaultStatusCompleted, true},
		{VaultStatusCompleted, VaultStatusExtinct, true},

		// No skipping stages
		{VaultStatusDraft, VaultStatusICO, false},
		{VaultStatusPreICO, VaultStatusActive, false},
		{VaultStatusPending, VaultStatusActive, false},
		{VaultStatusICO, VaultStatusActive, false},
		{VaultStatusPrelaunch, VaultStatusWinnerConfirmation, false},

		// No backward transitions
		{VaultStatusActive, VaultStatusPrelaunch, false},
		{VaultStatusPending, VaultStatusICO, false},
		{VaultStatusWinnerConfirmation, VaultStatusActive, false},
		{VaultStatusCompleted, VaultStatusActive, false},

		// Terminal
		{VaultStatusExtinct, VaultStatusCompleted, false},
		{VaultStatusExtinct, VaultStatusDraft, false},

		// Unknown statuses
		{"nonexistent", VaultStatusICO, false},
		{VaultStatusDraft, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		VaultStatusDraft, VaultStatusPreICO, VaultStatusICO,
		VaultStatusPending, VaultStatusRefundRequired, VaultStatusPrelaunch,
		VaultStatusActive, VaultStatusWinnerConfirmation,
		VaultStatusEndgameProcessing, VaultStatusCompleted, VaultStatusExtinct,
	}

	for _, status := range allStatuses {
		if _, ok := ValidVaultTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidVaultTransitions map", status)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(VaultStatusExtinct) {
		t.Error("extinct should be terminal")
	}
	for _, status := range []string{VaultStatusDraft, VaultStatusICO, VaultStatusActive, VaultStatusCompleted} {
		if IsTerminal(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
	if IsTerminal("nonexistent") {
		t.Error("unknown status should not report terminal")
	}
}
