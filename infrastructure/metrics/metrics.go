// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dlorp/synapse-engine-sub002/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Routing / fleet metrics
	RouteDecisionsTotal    *prometheus.CounterVec
	ModelGenerationTotal   *prometheus.CounterVec
	ModelGenerationSeconds *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Dialogue / event bus metrics
	DialogueTurnsTotal *prometheus.CounterVec
	EventBusDropsTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Routing / fleet metrics
		RouteDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "route_decisions_total",
				Help: "Total number of Router tier/model selections",
			},
			[]string{"service", "tier", "downgraded"},
		),
		ModelGenerationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_generation_total",
				Help: "Total number of Model Client generate calls",
			},
			[]string{"service", "model_id", "status"},
		),
		ModelGenerationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_generation_duration_seconds",
				Help:    "Model generation call duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"service", "model_id"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_cache_hits_total",
				Help: "Total number of Response Cache hits",
			},
			[]string{"service"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_cache_misses_total",
				Help: "Total number of Response Cache misses",
			},
			[]string{"service"},
		),

		// Dialogue / event bus metrics
		DialogueTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogue_turns_total",
				Help: "Total number of dialogue turns produced",
			},
			[]string{"service", "mode", "persona"},
		),
		EventBusDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_bus_drops_total",
				Help: "Total number of events dropped due to subscriber backpressure",
			},
			[]string{"service"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.RouteDecisionsTotal,
			m.ModelGenerationTotal,
			m.ModelGenerationSeconds,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.DialogueTurnsTotal,
			m.EventBusDropsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordRouteDecision records one Router tier/model selection
func (m *Metrics) RecordRouteDecision(service, tier string, downgraded bool) {
	status := "false"
	if downgraded {
		status = "true"
	}
	m.RouteDecisionsTotal.WithLabelValues(service, tier, status).Inc()
}

// RecordModelGeneration records one Model Client generate call
func (m *Metrics) RecordModelGeneration(service, modelID, status string, duration time.Duration) {
	m.ModelGenerationTotal.WithLabelValues(service, modelID, status).Inc()
	m.ModelGenerationSeconds.WithLabelValues(service, modelID).Observe(duration.Seconds())
}

// RecordCacheHit records a Response Cache hit
func (m *Metrics) RecordCacheHit(service string) {
	m.CacheHitsTotal.WithLabelValues(service).Inc()
}

// RecordCacheMiss records a Response Cache miss
func (m *Metrics) RecordCacheMiss(service string) {
	m.CacheMissesTotal.WithLabelValues(service).Inc()
}

// RecordDialogueTurn records one dialogue turn
func (m *Metrics) RecordDialogueTurn(service, mode, persona string) {
	m.DialogueTurnsTotal.WithLabelValues(service, mode, persona).Inc()
}

// RecordEventBusDrop records one event dropped due to subscriber backpressure
func (m *Metrics) RecordEventBusDrop(service string) {
	m.EventBusDropsTotal.WithLabelValues(service).Inc()
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
