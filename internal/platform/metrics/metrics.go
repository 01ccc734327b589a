// Package metrics exposes Prometheus collectors for the retry layers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Layer labels.
const (
	LayerFetch   = "fetch"
	LayerSession = "session"
	LayerStream  = "stream"
)

var (
	// RetriesTotal counts retries issued per layer and error kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrygate_retries_total",
			Help: "Total number of retries issued",
		},
		[]string{"layer", "kind"},
	)

	// GiveUpsTotal counts operations that stopped retrying
	GiveUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrygate_give_ups_total",
			Help: "Total number of operations that stopped retrying",
		},
		[]string{"layer", "reason"},
	)

	// WaitOutcomes counts isolated wait results
	WaitOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrygate_wait_outcomes_total",
			Help: "Total number of isolated waits by outcome",
		},
		[]string{"layer", "outcome"},
	)

	// WaitSeconds tracks computed wait durations
	WaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrygate_wait_seconds",
			Help:    "Computed retry wait in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"layer"},
	)

	// SkippedEvents counts corrupted stream events dropped by consumers
	SkippedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrygate_stream_events_skipped_total",
			Help: "Total number of malformed stream events skipped",
		},
		[]string{"provider"},
	)

	// TrackedSessions is the number of sessions holding retry state
	TrackedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrygate_tracked_sessions",
			Help: "Number of sessions with live retry state",
		},
	)
)

// ObserveRetry records one retry decision.
func ObserveRetry(layer, kind string, wait time.Duration) {
	RetriesTotal.WithLabelValues(layer, kind).Inc()
	WaitSeconds.WithLabelValues(layer).Observe(wait.Seconds())
}

// ObserveWait records how an isolated wait ended.
func ObserveWait(layer, outcome string) {
	WaitOutcomes.WithLabelValues(layer, outcome).Inc()
}

// ObserveGiveUp records an operation that stopped retrying.
func ObserveGiveUp(layer, reason string) {
	GiveUpsTotal.WithLabelValues(layer, reason).Inc()
}
