// Package observ exposes application metrics on the Prometheus registry.
package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/evgenyvinnik/checkout-api/internal/breaker"
	"github.com/evgenyvinnik/checkout-api/internal/retention"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Checkout outcomes by result",
		},
		[]string{"result"},
	)

	retentionCounters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retention_last_run_items",
			Help: "Items processed by the last retention run, per step",
		},
		[]string{"step"},
	)

	retentionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_step_failures_total",
			Help: "Retention step failures",
		},
		[]string{"step"},
	)
)

// BreakerObserver publishes circuit transitions. It must stay fast: it runs
// on the caller's goroutine inside the breaker's critical section.
type BreakerObserver struct{}

var _ breaker.Observer = BreakerObserver{}

func (BreakerObserver) OnStateChange(name string, from, to breaker.State) {
	breakerState.WithLabelValues(name).Set(float64(to))
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// CheckoutResult records one checkout outcome, e.g. "created", "replayed",
// "conflict", "validation_failed", "error".
func CheckoutResult(result string) {
	checkoutOutcomes.WithLabelValues(result).Inc()
}

// RetentionSummary publishes the counters of a finished retention run.
func RetentionSummary(sum retention.Summary) {
	retentionCounters.WithLabelValues("released_reservations").Set(float64(sum.ReleasedReservations))
	retentionCounters.WithLabelValues("deleted_sessions").Set(float64(sum.DeletedSessions))
	retentionCounters.WithLabelValues("deleted_idempotency_keys").Set(float64(sum.DeletedIdempotency))
	retentionCounters.WithLabelValues("deleted_search_logs").Set(float64(sum.DeletedSearchLogs))
	retentionCounters.WithLabelValues("archived_orders").Set(float64(sum.ArchivedOrders))
	retentionCounters.WithLabelValues("anonymized_orders").Set(float64(sum.AnonymizedOrders))
	for _, f := range sum.Failures {
		retentionFailures.WithLabelValues(f.Step).Inc()
	}
}
