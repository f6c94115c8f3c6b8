package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors served on /metrics.
// Observe methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	searchTotal     *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	searchResults   *prometheus.HistogramVec
	routeTotal      *prometheus.CounterVec
	oracleFailures  *prometheus.CounterVec
	indexBuilds     *prometheus.CounterVec
	indexedChunks   prometheus.Gauge
	generateTotal   *prometheus.CounterVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total retrievals by search type.",
		}, []string{"search_type"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amanrag",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Retrieval duration in seconds by search type.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"search_type"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amanrag",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of result counts per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"search_type"}),
		routeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Router decisions by route and stage.",
		}, []string{"route", "stage"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Oracle calls that failed and were defaulted.",
		}, []string{"oracle"}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "index",
			Name:      "builds_total",
			Help:      "Index builds by status.",
		}, []string{"status"}),
		indexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amanrag",
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Chunks in the published index.",
		}),
		generateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "llm",
			Name:      "generate_total",
			Help:      "Answer generation calls by status.",
		}, []string{"status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amanrag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.searchTotal,
		m.searchDuration,
		m.searchResults,
		m.routeTotal,
		m.oracleFailures,
		m.indexBuilds,
		m.indexedChunks,
		m.generateTotal,
		m.requestTotal,
		m.requestDuration,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one retrieval.
func (m *Metrics) ObserveSearch(searchType string, results int, latency time.Duration) {
	if m == nil {
		return
	}
	if searchType == "" {
		searchType = "unknown"
	}
	m.searchTotal.WithLabelValues(searchType).Inc()
	m.searchDuration.WithLabelValues(searchType).Observe(latency.Seconds())
	m.searchResults.WithLabelValues(searchType).Observe(float64(results))
}

// ObserveRoute records one router decision.
func (m *Metrics) ObserveRoute(route, stage string) {
	if m == nil {
		return
	}
	m.routeTotal.WithLabelValues(route, stage).Inc()
}

// ObserveOracleFailure records a defaulted oracle failure ("semantic", "classifier", "generator").
func (m *Metrics) ObserveOracleFailure(oracle string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(oracle).Inc()
}

// ObserveIndexBuild records a build outcome and, on success, the published size.
func (m *Metrics) ObserveIndexBuild(ok bool, chunks int) {
	if m == nil {
		return
	}
	if !ok {
		m.indexBuilds.WithLabelValues("error").Inc()
		return
	}
	m.indexBuilds.WithLabelValues("ok").Inc()
	m.indexedChunks.Set(float64(chunks))
}

// ObserveGenerate records an answer generation outcome.
func (m *Metrics) ObserveGenerate(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.generateTotal.WithLabelValues(status).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, path string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(latency.Seconds())
}
