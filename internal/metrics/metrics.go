package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the controller. The recording
// helpers are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Tick metrics
	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	InferenceDuration prometheus.Histogram
	FramesDropped     prometheus.Counter

	// Governor metrics
	GovernorLimit       prometheus.Gauge
	GovernorTransitions *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Dispatch metrics
	CommandsEmitted *prometheus.CounterVec
	EmitErrors      prometheus.Counter

	// Recording metrics
	FramesRecorded  prometheus.Counter
	RecordingErrors prometheus.Counter
}

// Tick-sized buckets, 1ms to ~1s.
var tickBuckets = prometheus.ExponentialBuckets(0.001, 2, 11)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Tick metrics
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticks_total",
				Help: "Total number of telemetry ticks by outcome",
			},
			[]string{"outcome"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tick_duration_seconds",
				Help:    "Duration of the telemetry to command pipeline in seconds",
				Buckets: tickBuckets,
			},
		),
		InferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inference_duration_seconds",
				Help:    "Duration of model predictions in seconds",
				Buckets: tickBuckets,
			},
		),
		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_dropped_total",
				Help: "Telemetry frames superseded before a worker picked them up",
			},
		),

		// Governor metrics
		GovernorLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_limit",
				Help: "Speed limit applied by the most recent tick",
			},
		),
		GovernorTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_transitions_total",
				Help: "Total number of governor state changes by target state",
			},
			[]string{"to"},
		),

		// Session metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently connected simulator sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of simulator sessions accepted",
			},
		),

		// Dispatch metrics
		CommandsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commands_emitted_total",
				Help: "Total number of outbound events by name",
			},
			[]string{"event"},
		),
		EmitErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emit_errors_total",
				Help: "Total number of outbound events that failed to reach a session",
			},
		),

		// Recording metrics
		FramesRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_recorded_total",
				Help: "Total number of frames written by the recording sink",
			},
		),
		RecordingErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recording_errors_total",
				Help: "Total number of failed recording writes",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.InferenceDuration,
		m.FramesDropped,
		m.GovernorLimit,
		m.GovernorTransitions,
		m.SessionsActive,
		m.SessionsTotal,
		m.CommandsEmitted,
		m.EmitErrors,
		m.FramesRecorded,
		m.RecordingErrors,
	)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTick counts one tick and its duration.
func (m *Metrics) ObserveTick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(d.Seconds())
}

// ObserveInference records one prediction latency.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

// ObserveGovernor records the limit of a tick and, if the state moved, the
// transition.
func (m *Metrics) ObserveGovernor(limit float64, changed bool, to string) {
	if m == nil {
		return
	}
	m.GovernorLimit.Set(limit)
	if changed {
		m.GovernorTransitions.WithLabelValues(to).Inc()
	}
}

// SessionOpened counts a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// Emitted counts an outbound event and any per-session delivery failure.
func (m *Metrics) Emitted(event string, err error) {
	if m == nil {
		return
	}
	m.CommandsEmitted.WithLabelValues(event).Inc()
	if err != nil {
		m.EmitErrors.Inc()
	}
}

// FrameDropped counts a superseded telemetry frame.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// Recorded counts one recording attempt.
func (m *Metrics) Recorded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RecordingErrors.Inc()
		return
	}
	m.FramesRecorded.Inc()
}
