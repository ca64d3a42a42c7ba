package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(buddyTransitions.WithLabelValues("accept", "ok"))
	BuddyTransition("accept", "ok")
	BuddyTransition("accept", "ok")
	if got := testutil.ToFloat64(buddyTransitions.WithLabelValues("accept", "ok")); got != before+2 {
		t.Fatalf("buddy accept/ok = %v; want %v", got, before+2)
	}

	before = testutil.ToFloat64(ledgerWrites.WithLabelValues("edit_item", "conflict"))
	LedgerWrite("edit_item", "conflict")
	if got := testutil.ToFloat64(ledgerWrites.WithLabelValues("edit_item", "conflict")); got != before+1 {
		t.Fatalf("ledger edit_item/conflict = %v; want %v", got, before+1)
	}
}
