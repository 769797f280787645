package deadletter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "dlq",
		Name:      "entries_recorded_total",
		Help:      "Number of events dead-lettered after projection retries were exhausted.",
	}, []string{"event_type"})

	resolvedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "dlq",
		Name:      "entries_resolved_total",
		Help:      "Number of dead-letter entries resolved by a replay.",
	}, []string{"event_type", "outcome"})

	quarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "dlq",
		Name:      "entries_quarantined_total",
		Help:      "Number of dead-letter entries quarantined after exhausting retries.",
	}, []string{"event_type"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_projection",
		Subsystem: "dlq",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a dead-letter entry was scheduled for a future retry.",
	}, []string{"event_type"})

	backlogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "health_projection",
		Subsystem: "dlq",
		Name:      "queued_entries",
		Help:      "Current number of dead-letter entries awaiting replay.",
	})
)

func init() {
	prometheus.MustRegister(recordedCounter, resolvedCounter, quarantinedCounter, retryCounter, backlogGauge)
}

func recordRecorded(entry Entry) {
	recordedCounter.WithLabelValues(string(entry.EventType)).Inc()
}

func recordResolved(entry Entry, outcome string) {
	resolvedCounter.WithLabelValues(string(entry.EventType), outcome).Inc()
}

func recordQuarantined(entry Entry) {
	quarantinedCounter.WithLabelValues(string(entry.EventType)).Inc()
}

func recordRetry(entry Entry) {
	retryCounter.WithLabelValues(string(entry.EventType)).Inc()
}

func updateBacklogGauge(ctx context.Context, store Store) {
	count, err := store.Backlog(ctx)
	if err != nil {
		return
	}
	backlogGauge.Set(float64(count))
}
