// Package jobs runs the service's background jobs and records their outcome.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
)

// Job types.
const (
	JobTypeRateLimitCleanup = "rate_limit_cleanup"
	JobTypeAuditArchive     = "audit_archive"
)

// Job outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Error classes.
const (
	ErrorTypeTimeout  = "timeout"
	ErrorTypeCanceled = "canceled"
	ErrorTypeError    = "error"
)

// Metrics counts job runs by outcome and error class and times them.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Background job runs by job type and outcome.",
		}, []string{"job_type", "status"}),
		jobsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricBackgroundJobsDuration,
			Help: "Background job run time in seconds.",
			// Archive uploads dominate the upper buckets.
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"job_type"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Failed background job runs by job type and error class.",
		}, []string{"job_type", "error_type"}),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors}
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

// record counts one run of jobType that took elapsed and ended with err.
func (m *Metrics) record(jobType string, elapsed time.Duration, err error) {
	m.jobsDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	if err == nil {
		m.jobsTotal.WithLabelValues(jobType, StatusSuccess).Inc()
		return
	}
	m.jobsTotal.WithLabelValues(jobType, StatusFailure).Inc()
	m.jobErrors.WithLabelValues(jobType, errorType(err)).Inc()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	default:
		return ErrorTypeError
	}
}
