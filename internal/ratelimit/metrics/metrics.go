package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	TrackedWindows prometheus.Gauge
}

// New registers the limiter metrics with reg. A nil registerer yields
// unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_ratelimit_decisions_total",
			Help: "Rate limit evaluations by outcome",
		}, []string{"outcome"}),
		TrackedWindows: f.NewGauge(prometheus.GaugeOpts{
			Name: "verity_ratelimit_tracked_windows",
			Help: "Number of (identifier, window) pairs currently tracked",
		}),
	}
}

func (m *Metrics) IncAllowed() {
	if m != nil {
		m.Decisions.WithLabelValues("allowed").Inc()
	}
}

func (m *Metrics) IncDenied() {
	if m != nil {
		m.Decisions.WithLabelValues("denied").Inc()
	}
}

func (m *Metrics) SetTrackedWindows(n int) {
	if m != nil {
		m.TrackedWindows.Set(float64(n))
	}
}
