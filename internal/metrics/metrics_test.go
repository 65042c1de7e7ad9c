package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTipOutcome(t *testing.T) {
	before := testutil.ToFloat64(tipOutcomes.WithLabelValues("ledger_committed"))
	beforeCents := testutil.ToFloat64(tipAmount)

	RecordTipOutcome("ledger_committed", 1500)
	RecordTipOutcome("ledger_committed", 0)

	assert.Equal(t, before+2, testutil.ToFloat64(tipOutcomes.WithLabelValues("ledger_committed")))
	assert.Equal(t, beforeCents+1500, testutil.ToFloat64(tipAmount))
}

func TestRecordLedgerCallLabelsOutcome(t *testing.T) {
	RecordLedgerCall("view", nil, 10*time.Millisecond)
	RecordLedgerCall("view", errors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(ledgerCalls, "keyless_tips_ledger_call_duration_seconds"))
}

func TestSetUnsettledTips(t *testing.T) {
	SetUnsettledTips(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(reconcileDebt))
}
