// Package observability exposes Prometheus collectors for the projection pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	projectionOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "projector",
		Name:      "events_total",
		Help:      "Number of events handled by projectors grouped by kind and outcome.",
	}, []string{"kind", "outcome"})

	projectionRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "projector",
		Name:      "retries_total",
		Help:      "Number of projection attempts retried after a write conflict.",
	}, []string{"kind"})

	projectionFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "projector",
		Name:      "failures_total",
		Help:      "Number of events whose projection failed after retries.",
	}, []string{"kind"})

	rollupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "rollup",
		Name:      "recomputes_total",
		Help:      "Number of daily rollup recomputations grouped by result.",
	}, []string{"result"})

	compensationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "compensation",
		Name:      "applied_total",
		Help:      "Number of deletions and corrections applied grouped by result.",
	}, []string{"action", "result"})

	lastProjectionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "health_projection",
		Subsystem: "projector",
		Name:      "last_projected_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful projection write.",
	})
)

func init() {
	prometheus.MustRegister(projectionOutcomeCounter, projectionRetryCounter, projectionFailureCounter, rollupCounter, compensationCounter, lastProjectionGauge)
}

// RecordProjection counts one projector outcome.
func RecordProjection(kind, outcome string) {
	projectionOutcomeCounter.WithLabelValues(kind, outcome).Inc()
}

// RecordProjectionRetry counts a retried attempt.
func RecordProjectionRetry(kind string) {
	projectionRetryCounter.WithLabelValues(kind).Inc()
}

// RecordProjectionFailure counts an event given up on.
func RecordProjectionFailure(kind string) {
	projectionFailureCounter.WithLabelValues(kind).Inc()
}

// RecordRollupRecompute counts a rollup rebuild.
func RecordRollupRecompute(result string) {
	rollupCounter.WithLabelValues(result).Inc()
}

// RecordCompensation counts a deletion or correction.
func RecordCompensation(action, result string) {
	compensationCounter.WithLabelValues(action, result).Inc()
}

// RecordProjected updates the projection watermark gauge.
func RecordProjected(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastProjectionGauge.Set(float64(ts.Unix()))
}
