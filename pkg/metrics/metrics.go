// Package metrics defines the Prometheus metric collectors used across the
// dashboard and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the dashboard.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	AnalyticsFetchesTotal   *prometheus.CounterVec
	AnalyticsFetchLatency   prometheus.Histogram
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	ProbeAvailable          *prometheus.GaugeVec
	ActivityEventsTotal     *prometheus.CounterVec
	ValidationWarningsTotal prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_upstream_requests_total",
				Help: "Requests sent to the analytics service by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analytics_upstream_request_duration_seconds",
				Help:    "Analytics service request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		AnalyticsFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_aggregate_fetches_total",
				Help: "Aggregate analytics loads by outcome (ok, error, cached).",
			},
			[]string{"outcome"},
		),
		AnalyticsFetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "analytics_aggregate_fetch_seconds",
				Help:    "Latency of the six-way analytics fan-out.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_cache_hits_total",
				Help: "Total number of analytics cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_cache_misses_total",
				Help: "Total number of analytics cache misses.",
			},
		),
		ProbeAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "upstream_available",
				Help: "Last health probe result per upstream (1=available, 0=unavailable).",
			},
			[]string{"upstream"},
		),
		ActivityEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_events_total",
				Help: "Activity log entries by source (local, ingest) and event.",
			},
			[]string{"source", "event"},
		),
		ValidationWarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_validation_warnings_total",
				Help: "Soft validation warnings raised on analytics payloads.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.AnalyticsFetchesTotal,
		m.AnalyticsFetchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ProbeAvailable,
		m.ActivityEventsTotal,
		m.ValidationWarningsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler serves g in the Prometheus exposition format. A nil g serves the
// default registry, which also carries the Go runtime and process collectors.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
