// Package metrics provides Prometheus metrics for relaybot and the HTTP
// server exposing them alongside a health endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for relaybot.
type Metrics struct {
	Registry *prometheus.Registry

	// Event metrics
	EventsReceivedTotal *prometheus.CounterVec
	EventsHandledTotal  *prometheus.CounterVec

	// Completion metrics
	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec

	// Outbound metrics
	SegmentsSentTotal     *prometheus.CounterVec
	FailuresReportedTotal *prometheus.CounterVec

	StartTime time.Time
}

// New creates all collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		StartTime: time.Now(),
	}

	m.EventsReceivedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_events_received_total",
			Help: "Total number of inbound events by kind",
		},
		[]string{"kind"},
	)

	m.EventsHandledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_events_handled_total",
			Help: "Total number of processed events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.CompletionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_completions_total",
			Help: "Total number of completion calls by track and status",
		},
		[]string{"track", "status"},
	)

	m.CompletionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaybot_completion_duration_seconds",
			Help:    "Duration of completion calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"track"},
	)

	m.SegmentsSentTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_segments_sent_total",
			Help: "Total number of outbound message segments by channel",
		},
		[]string{"channel"},
	)

	m.FailuresReportedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_failures_reported_total",
			Help: "Total number of text-track failures, by whether the report was delivered",
		},
		[]string{"delivered"},
	)

	return m
}

// EventReceived counts an inbound event.
func (m *Metrics) EventReceived(kind string) {
	m.EventsReceivedTotal.WithLabelValues(kind).Inc()
}

// EventHandled counts a processed event.
func (m *Metrics) EventHandled(kind, outcome string) {
	m.EventsHandledTotal.WithLabelValues(kind, outcome).Inc()
}

// CompletionObserved records a completion call.
func (m *Metrics) CompletionObserved(track, status string, took time.Duration) {
	m.CompletionsTotal.WithLabelValues(track, status).Inc()
	m.CompletionDuration.WithLabelValues(track).Observe(took.Seconds())
}

// SegmentsSent counts delivered segments.
func (m *Metrics) SegmentsSent(channel string, n int) {
	if n > 0 {
		m.SegmentsSentTotal.WithLabelValues(channel).Add(float64(n))
	}
}

// FailureReported counts a failure report.
func (m *Metrics) FailureReported(delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	m.FailuresReportedTotal.WithLabelValues(label).Inc()
}
