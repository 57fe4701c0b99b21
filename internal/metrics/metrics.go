package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionsTotal        prometheus.Counter
	SessionsSweptTotal   prometheus.Counter
	SessionsOverCapacity prometheus.Counter

	// Frame metrics
	FramesReceivedTotal *prometheus.CounterVec
	FramesSentTotal     *prometheus.CounterVec
	HandledErrorsTotal  *prometheus.CounterVec

	// Upstream metrics
	UpstreamConnectAttempts *prometheus.CounterVec
	RelayedEventsTotal      *prometheus.CounterVec
	RelayLoopsActive        prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kisan_sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kisan_sessions_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kisan_sessions_swept_total",
				Help: "Total number of idle sessions evicted by the sweeper",
			},
		),
		SessionsOverCapacity: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kisan_sessions_over_capacity_total",
				Help: "Sessions accepted while above the configured soft cap",
			},
		),

		FramesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kisan_frames_received_total",
				Help: "Inbound client frames by type",
			},
			[]string{"type"},
		),
		FramesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kisan_frames_sent_total",
				Help: "Outbound client frames by type",
			},
			[]string{"type"},
		),
		HandledErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kisan_handled_errors_total",
				Help: "Handled failures surfaced as error frames, by error_type",
			},
			[]string{"error_type"},
		),

		UpstreamConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kisan_upstream_connect_attempts_total",
				Help: "Upstream Live API connect attempts by model and status",
			},
			[]string{"model", "status"},
		),
		RelayedEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kisan_relayed_events_total",
				Help: "Upstream events forwarded to clients by kind",
			},
			[]string{"kind"},
		),
		RelayLoopsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kisan_relay_loops_active",
				Help: "Number of running relay loops",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.SessionsSweptTotal)
	m.registry.MustRegister(m.SessionsOverCapacity)

	m.registry.MustRegister(m.FramesReceivedTotal)
	m.registry.MustRegister(m.FramesSentTotal)
	m.registry.MustRegister(m.HandledErrorsTotal)

	m.registry.MustRegister(m.UpstreamConnectAttempts)
	m.registry.MustRegister(m.RelayedEventsTotal)
	m.registry.MustRegister(m.RelayLoopsActive)
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
