// Package metrics holds the Prometheus collectors of the kill-switch engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zonetrust",
		Name:      "evaluations_total",
		Help:      "Anomaly reports evaluated, by anomaly type and resulting action.",
	}, []string{"anomaly_type", "action"})

	rejectedSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zonetrust",
		Name:      "rejected_signals_total",
		Help:      "Signals rejected before any mutation, by cause.",
	}, []string{"cause"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zonetrust",
		Name:      "transitions_total",
		Help:      "State transitions appended to audit logs.",
	}, []string{"from", "to", "actor_kind"})

	versionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zonetrust",
		Name:      "version_conflicts_total",
		Help:      "Optimistic write conflicts that forced a re-read.",
	})

	evaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zonetrust",
		Name:      "evaluate_duration_seconds",
		Help:      "Latency of the ingestion read-modify-write cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zonetrust",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of a full reconciliation pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	reconcileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zonetrust",
		Name:      "reconcile_results_total",
		Help:      "Reconciliation outcomes summed across passes.",
	}, []string{"result"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zonetrust",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveEvaluation records one evaluated report
func ObserveEvaluation(anomalyType, action string, elapsed time.Duration) {
	evaluationsTotal.WithLabelValues(anomalyType, action).Inc()
	evaluateDuration.Observe(elapsed.Seconds())
}

// ObserveRejected records a signal rejected at the boundary
func ObserveRejected(cause string) {
	rejectedSignalsTotal.WithLabelValues(cause).Inc()
}

// ObserveTransition records an appended audit entry
func ObserveTransition(from, to, actor string) {
	kind := "manual"
	if actor == "system" {
		kind = "system"
	}
	transitionsTotal.WithLabelValues(from, to, kind).Inc()
}

// ObserveConflict records an optimistic-lock retry
func ObserveConflict() {
	versionConflictsTotal.Inc()
}

// ObserveReconciliation records a finished pass
func ObserveReconciliation(elapsed time.Duration, updated, revivals, degraded, killed int) {
	reconcileDuration.Observe(elapsed.Seconds())
	reconcileResults.WithLabelValues("updated").Add(float64(updated))
	reconcileResults.WithLabelValues("revivals").Add(float64(revivals))
	reconcileResults.WithLabelValues("degraded").Add(float64(degraded))
	reconcileResults.WithLabelValues("killed").Add(float64(killed))
}

// ObserveHTTPRequest records one served request. route is the mux template,
// never the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
