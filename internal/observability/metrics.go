package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	authAttempts        *prometheus.CounterVec
	accessDenials       *prometheus.CounterVec
	rateLimitDenials    *prometheus.CounterVec
	rateLimitBlocks     prometheus.Counter
	auditWrites         *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by outcome and failure code.",
		}, []string{"outcome", "code"}),
		accessDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_denials_total",
			Help: "Requests denied by access control, by failure code.",
		}, []string{"code"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Requests denied by the rate limiter, by classification.",
		}, []string{"class"}),
		rateLimitBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_blocks_total",
			Help: "Keys placed on the temporary block list.",
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Audit entries written, by sink and result.",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.authAttempts,
		m.accessDenials,
		m.rateLimitDenials,
		m.rateLimitBlocks,
		m.auditWrites,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestStarted tracks an in-flight request and returns the function that
// records its completion.
func (m *Metrics) RequestStarted() func(method, route string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	m.httpInFlight.Inc()
	start := time.Now()
	return func(method, route string, status int) {
		code := strconv.Itoa(status)
		m.httpRequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, route, code).Inc()
		m.httpInFlight.Dec()
	}
}

// AuthAttempt counts a login, refresh or two-factor attempt.
func (m *Metrics) AuthAttempt(outcome, code string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome, code).Inc()
}

// AccessDenied counts an access-control denial.
func (m *Metrics) AccessDenied(code string) {
	if m == nil {
		return
	}
	m.accessDenials.WithLabelValues(code).Inc()
}

// RateLimited counts a denial in one rate-limit classification.
func (m *Metrics) RateLimited(class string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(class).Inc()
}

// KeyBlocked counts a key added to the block list.
func (m *Metrics) KeyBlocked() {
	if m == nil {
		return
	}
	m.rateLimitBlocks.Inc()
}

// AuditWrite counts an audit write to sink.
func (m *Metrics) AuditWrite(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.auditWrites.WithLabelValues(sink, result).Inc()
}
