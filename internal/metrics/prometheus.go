// Package metrics provides Prometheus metrics for nordcfg.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// Metrics holds all Prometheus metrics for nordcfg. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Output metrics
	ConfigsRendered *prometheus.CounterVec

	// Upstream health probes
	UpstreamHealthy *prometheus.GaugeVec

	// System metrics
	Uptime     prometheus.Gauge
	GoRoutines prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Upstream metrics
	m.UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nordcfg_upstream_requests_total",
			Help: "Total number of NordVPN API requests",
		},
		[]string{"endpoint", "status"},
	)

	m.UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nordcfg_upstream_request_duration_seconds",
			Help:    "Duration of NordVPN API requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"endpoint"},
	)

	// Cache metrics
	m.CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nordcfg_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	// HTTP metrics
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nordcfg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nordcfg_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"route", "method"},
	)

	// Rate limiting metrics
	m.RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nordcfg_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"route"},
	)

	// Output metrics
	m.ConfigsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nordcfg_configs_rendered_total",
			Help: "Total number of configuration files served",
		},
		[]string{"kind"},
	)

	m.UpstreamHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nordcfg_upstream_healthy",
			Help: "Whether the last upstream health probe passed (1) or failed (0)",
		},
		[]string{"check"},
	)

	// System metrics
	m.Uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nordcfg_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	m.GoRoutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nordcfg_goroutines",
			Help: "Number of goroutines",
		},
	)

	// Register all metrics
	m.registry.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimitHits,
		m.ConfigsRendered,
		m.UpstreamHealthy,
		m.Uptime,
		m.GoRoutines,
	)

	// Register default Go metrics
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StatusClass collapses an HTTP status into "2xx", "4xx" and so on. Zero
// means the request never got a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveUpstream records one NordVPN API request.
func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(endpoint, StatusClass(status)).Inc()
	m.UpstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(cache string, result vpnprovider.CacheResult) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, string(result)).Inc()
}

// RecordRequest records a served HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordRateLimit records a rejected request.
func (m *Metrics) RecordRateLimit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(route).Inc()
}

// RecordConfig records a served configuration file of the given kind
// ("wireguard" or "openvpn").
func (m *Metrics) RecordConfig(kind string) {
	if m == nil {
		return
	}
	m.ConfigsRendered.WithLabelValues(kind).Inc()
}

// SetUpstreamHealth records the outcome of a health probe.
func (m *Metrics) SetUpstreamHealth(check string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.UpstreamHealthy.WithLabelValues(check).Set(v)
}
