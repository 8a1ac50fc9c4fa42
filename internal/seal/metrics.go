package seal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricSealsIssued         = "seals_issued_total"
	MetricSealIssueFailures   = "seal_issue_failures_total"
	MetricAuditWriteFailures  = "audit_write_failures_total"
	MetricSealSigningDuration = "seal_signing_duration_seconds"
)

// Failure reasons used as the reason label of seal_issue_failures_total.
const (
	ReasonValidation = "validation"
	ReasonDenied     = "denied"
	ReasonGate       = "gate_error"
	ReasonKey        = "key"
	ReasonSigning    = "signing"
	ReasonID         = "id"
	ReasonCancelled  = "cancelled"
)

// Metrics contains Prometheus metrics for seal issuance.
// All operations are thread-safe.
type Metrics struct {
	sealsIssued        *prometheus.CounterVec
	issueFailures      *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
	signingDuration    prometheus.Histogram
}

// NewMetrics creates the issuance metrics. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		sealsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSealsIssued,
				Help: "Total number of seals issued by kind",
			},
			[]string{"kind"},
		),
		issueFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSealIssueFailures,
				Help: "Total number of seal requests that did not produce a seal, by reason",
			},
			[]string{"kind", "reason"},
		),
		auditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricAuditWriteFailures,
				Help: "Total number of issued seals that could not be appended to the audit log",
			},
		),
		signingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricSealSigningDuration,
				Help:    "Time spent resolving the signing identity and signing, in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sealsIssued,
		m.issueFailures,
		m.auditWriteFailures,
		m.signingDuration,
	}
}

func (m *Metrics) incIssued(kind Kind) {
	if m == nil {
		return
	}
	m.sealsIssued.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incFailure(kind Kind, reason string) {
	if m == nil {
		return
	}
	m.issueFailures.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) incAuditWriteFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) observeSigning(seconds float64) {
	if m == nil {
		return
	}
	m.signingDuration.Observe(seconds)
}
