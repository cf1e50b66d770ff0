// Package metrics holds the Prometheus instrumentation for the streaming
// engine. Metrics are registered once at startup and served by the
// prometheus HTTP handler at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all application metric collectors.
type Metrics struct {
	// RunsStarted counts agent runs by final status (done|stopped|error).
	RunsStarted *prometheus.CounterVec

	// SessionsRunning is the number of sessions with an active run.
	SessionsRunning prometheus.Gauge

	// EventsEmitted counts wire events pushed to session queues, by type.
	EventsEmitted *prometheus.CounterVec

	// EventsDropped counts events discarded to queue overflow.
	EventsDropped prometheus.Counter

	// ChunksFlushed counts content chunks produced by the chunker.
	ChunksFlushed prometheus.Counter

	// RunDuration measures agent run wall time in seconds.
	RunDuration prometheus.Histogram
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors with the given registerer. Tests pass a
// fresh registry so runs do not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_runs_total",
				Help: "Total number of agent runs by final status",
			},
			[]string{"status"},
		),

		SessionsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_sessions_running",
				Help: "Current number of sessions with an active run",
			},
		),

		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_events_emitted_total",
				Help: "Total number of wire events emitted by type",
			},
			[]string{"type"},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_events_dropped_total",
				Help: "Total number of events dropped to queue overflow",
			},
		),

		ChunksFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_chunks_flushed_total",
				Help: "Total number of content chunks flushed",
			},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_run_duration_seconds",
				Help:    "Agent run wall time in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
	}
}
