package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for ledger transitions.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeRefused = "refused"
	OutcomeFailed  = "failed"
)

// LendingMetrics tracks ledger activity.
type LendingMetrics struct {
	transitions *prometheus.CounterVec
	fines       prometheus.Counter
	retries     *prometheus.CounterVec
}

// NewLendingMetrics registers the lending metrics. A nil registerer yields a
// no-op recorder.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	if reg == nil {
		return &LendingMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_transitions_total",
		Help:      "Ledger operations by transition and outcome.",
	}, []string{"transition", "outcome"})
	fines := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fines_assessed_total",
		Help:      "Fines created by overdue returns.",
	})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_tx_retries_total",
		Help:      "Transactions replayed after a serialization failure.",
	}, []string{"transition"})
	reg.MustRegister(transitions, fines, retries)
	return &LendingMetrics{transitions: transitions, fines: fines, retries: retries}
}

// Transition counts one ledger operation.
func (m *LendingMetrics) Transition(transition, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(transition), normalizeLabel(outcome)).Inc()
}

// FineAssessed counts a newly created fine.
func (m *LendingMetrics) FineAssessed() {
	if m == nil || m.fines == nil {
		return
	}
	m.fines.Inc()
}

// Retry counts a replayed transaction.
func (m *LendingMetrics) Retry(transition string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(transition)).Inc()
}
