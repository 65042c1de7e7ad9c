package models

import "testing"

func TestIsValidTipTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{TipStateValidated, TipStateMirrorPending, true},
		{TipStateMirrorPending, TipStateMirrorCommitted, true},
		{TipStateMirrorCommitted, TipStateLedgerPending, true},
		{TipStateLedgerPending, TipStateLedgerCommitted, true},

		// Pre-confirmed sync path skips the ledger submission
		{TipStateMirrorCommitted, TipStateLedgerCommitted, true},

		// Degraded and failure paths
		{TipStateValidated, TipStateRejected, true},
		{TipStateMirrorPending, TipStateMirrorFailed, true},
		{TipStateMirrorFailed, TipStateRejected, true},
		{TipStateLedgerPending, TipStateLedgerFailedMirrorKept, true},
		{TipStateMirrorCommitted, TipStateLedgerFailedMirrorKept, true},

		// Invalid transitions
		{TipStateValidated, TipStateLedgerPending, false},
		{TipStateMirrorPending, TipStateLedgerPending, false},
		{TipStateMirrorFailed, TipStateLedgerPending, false},
		{TipStateLedgerPending, TipStateRejected, false},
		{TipStateLedgerCommitted, TipStateLedgerFailedMirrorKept, false},
		{TipStateLedgerFailedMirrorKept, TipStateLedgerCommitted, false},
		{"nonexistent", TipStateMirrorPending, false},
		{TipStateValidated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTipTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTipTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalTipStates(t *testing.T) {
	terminal := []string{TipStateLedgerCommitted, TipStateLedgerFailedMirrorKept, TipStateRejected}
	for _, s := range terminal {
		if !IsTerminalTipState(s) {
			t.Errorf("state %q should be terminal", s)
		}
	}
	for _, s := range []string{TipStateValidated, TipStateMirrorPending, TipStateMirrorCommitted, TipStateLedgerPending, TipStateMirrorFailed} {
		if IsTerminalTipState(s) {
			t.Errorf("state %q should not be terminal", s)
		}
	}
}

func TestFeeScheduleSplit(t *testing.T) {
	fs := FeeSchedule{FeeBPS: 200}
	net, fee := fs.Split(1500)
	if fee != 30 || net != 1470 {
		t.Fatalf("Split(1500) = net %d fee %d, want 1470/30", net, fee)
	}

	for _, bps := range []int64{0, 1, 150, 200, 333, 10_000} {
		fs := FeeSchedule{FeeBPS: bps}
		for a := int64(1); a <= 5000; a += 7 {
			net, fee := fs.Split(a)
			if net+fee != a {
				t.Fatalf("bps=%d amount=%d: net %d + fee %d != amount", bps, a, net, fee)
			}
			if fee < 0 || net < 0 {
				t.Fatalf("bps=%d amount=%d: negative part", bps, a)
			}
		}
	}
}

func TestCategories(t *testing.T) {
	for _, c := range AllCategories {
		if !IsValidCategory(c) {
			t.Errorf("%q should be valid", c)
		}
		if _, ok := CategoryCode(c); !ok {
			t.Errorf("%q has no on-chain code", c)
		}
	}
	if IsValidCategory("bakery") {
		t.Error("unexpected category accepted")
	}
}
