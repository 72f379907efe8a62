package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the ingest service. All methods are
// safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	webhooksTotal       *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	filesMaterialized   prometheus.Counter
	uploadsStarted      prometheus.Counter
	materializeInFlight prometheus.Gauge
	requestDuration     *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	webhooksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_webhooks_total",
		Help: "Webhook deliveries by provider and outcome",
	}, []string{"provider", "outcome"})
	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_transitions_total",
		Help: "State transitions attempted by kind and result (applied, stale, duplicate)",
	}, []string{"transition", "result"})
	filesMaterialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_files_materialized_total",
		Help: "Output files copied into durable storage",
	})
	uploadsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_uploads_started_total",
		Help: "Upload targets issued to clients",
	})
	materializeInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_materializations_in_flight",
		Help: "Output sets currently being relocated",
	})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		webhooksTotal,
		transitionsTotal,
		filesMaterialized,
		uploadsStarted,
		materializeInFlight,
		requestDuration,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		webhooksTotal:       webhooksTotal,
		transitionsTotal:    transitionsTotal,
		filesMaterialized:   filesMaterialized,
		uploadsStarted:      uploadsStarted,
		materializeInFlight: materializeInFlight,
		requestDuration:     requestDuration,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveWebhook records one webhook delivery.
func (m *Metrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveTransition records one transition attempt.
func (m *Metrics) ObserveTransition(transition, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(transition, result).Inc()
}

// AddFilesMaterialized adds n to the copied files counter.
func (m *Metrics) AddFilesMaterialized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.filesMaterialized.Add(float64(n))
}

// IncUploadsStarted increments the upload target counter.
func (m *Metrics) IncUploadsStarted() {
	if m == nil {
		return
	}
	m.uploadsStarted.Inc()
}

// TrackMaterialization increments the in-flight gauge and returns the
// function that decrements it.
func (m *Metrics) TrackMaterialization() func() {
	if m == nil {
		return func() {}
	}
	m.materializeInFlight.Inc()
	return m.materializeInFlight.Dec
}

// ObserveRequest records one HTTP request's latency.
func (m *Metrics) ObserveRequest(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, statusClass(status)).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
