package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	// Source latencies as seen by the fan-out, cache hits included
	SourceLatency *prometheus.HistogramVec

	// Verdict outcomes by status and deciding rule
	VerdictOutcome *prometheus.CounterVec

	VerifyLatency prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verity_verification_source_duration_seconds",
			Help:    "Duration of each source lookup within a verification",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),

		VerdictOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_verification_verdicts_total",
			Help: "Verdicts by overall status and deciding rule",
		}, []string{"status", "rule"}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "verity_verification_duration_seconds",
			Help:    "Duration of full verifications including source fan-out",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) ObserveSourceLatency(source string, d time.Duration) {
	if m != nil {
		m.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementOutcome(status, rule string) {
	if m != nil {
		m.VerdictOutcome.WithLabelValues(status, rule).Inc()
	}
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
