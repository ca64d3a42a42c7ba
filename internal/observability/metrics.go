package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// buddyTransitions counts buddy graph operations by outcome.
	buddyTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitbuddy_buddy_transitions_total",
			Help: "Buddy connection operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// ledgerWrites counts table ledger mutations by outcome.
	ledgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitbuddy_ledger_writes_total",
			Help: "Table ledger mutations by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(buddyTransitions, ledgerWrites)
}

// BuddyTransition records one buddy graph operation. result is a short,
// bounded label such as "ok" or "invalid_state".
func BuddyTransition(op, result string) {
	buddyTransitions.WithLabelValues(op, result).Inc()
}

// LedgerWrite records one ledger mutation.
func LedgerWrite(op, result string) {
	ledgerWrites.WithLabelValues(op, result).Inc()
}
