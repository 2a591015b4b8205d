package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for zapleads
type Metrics struct {
	// Dispatch
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec
	ActiveDispatches    prometheus.Gauge
	DispatchWaitSeconds prometheus.Histogram

	// Validation
	NumberChecksTotal *prometheus.CounterVec

	// API
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapleads_messages_sent_total",
				Help: "Total number of messages accepted by the gateway",
			},
			[]string{"campaign"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapleads_messages_failed_total",
				Help: "Total number of failed send attempts",
			},
			[]string{"campaign"},
		),
		ActiveDispatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zapleads_active_dispatches",
				Help: "Number of campaigns currently dispatching",
			},
		),
		DispatchWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zapleads_dispatch_wait_seconds",
				Help:    "Scheduled wait between consecutive sends",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),
		NumberChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapleads_number_checks_total",
				Help: "Total number of WhatsApp reachability checks",
			},
			[]string{"result"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapleads_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zapleads_api_request_duration_seconds",
				Help:    "API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.ActiveDispatches,
		m.DispatchWaitSeconds,
		m.NumberChecksTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
