package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exposed by the middleware package.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

// sizeBuckets span 64 B to 64 KiB. Seal requests and responses are small and
// request bodies are capped well below the top bucket.
var sizeBuckets = prometheus.ExponentialBuckets(64, 4, 6)

// Metrics holds the HTTP and rate limit collectors. Safe for concurrent use.
type Metrics struct {
	limitChecks  *prometheus.CounterVec
	limitBlocked *prometheus.CounterVec
	redisErrors  prometheus.Counter

	duration     *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	requestSize  *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	httpLabels := []string{"method", "route", "status"}
	return &Metrics{
		limitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Requests checked against the issuance rate limit, by route.",
		}, []string{"route"}),
		limitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected by the issuance rate limit, by route.",
		}, []string{"route"}),
		redisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Redis failures during rate limiting. Each one let a request through.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, httpLabels),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests served.",
		}, httpLabels),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "HTTP request body size in bytes, from Content-Length.",
			Buckets: sizeBuckets,
		}, httpLabels),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response body size in bytes.",
			Buckets: sizeBuckets,
		}, httpLabels),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.limitChecks, m.limitBlocked, m.redisErrors,
		m.duration, m.requests, m.requestSize, m.responseSize,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncRateLimitRequests(route string) { m.limitChecks.WithLabelValues(route).Inc() }
func (m *Metrics) IncRateLimitBlocked(route string)  { m.limitBlocked.WithLabelValues(route).Inc() }
func (m *Metrics) IncRateLimitRedisErrors()          { m.redisErrors.Inc() }

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, seconds float64, requestSize, responseSize int64) {
	m.duration.WithLabelValues(method, route, status).Observe(seconds)
	m.requests.WithLabelValues(method, route, status).Inc()
	m.requestSize.WithLabelValues(method, route, status).Observe(float64(requestSize))
	m.responseSize.WithLabelValues(method, route, status).Observe(float64(responseSize))
}
