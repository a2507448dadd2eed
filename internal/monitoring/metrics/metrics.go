package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for monitoring cycles.
type Metrics struct {
	CycleDuration    prometheus.Histogram
	Cycles           *prometheus.CounterVec
	EntitiesChecked  prometheus.Counter
	EntityErrors     prometheus.Counter
	ChangesDetected  *prometheus.CounterVec
	AlertsCreated    *prometheus.CounterVec
	AlertsSent       prometheus.Counter
	DeliveryFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "verity_monitoring_cycle_duration_seconds",
			Help:    "Duration of monitoring cycles",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_monitoring_cycles_total",
			Help: "Monitoring cycles by outcome",
		}, []string{"outcome"}),
		EntitiesChecked: f.NewCounter(prometheus.CounterOpts{
			Name: "verity_monitoring_entities_checked_total",
			Help: "Entities re-verified by monitoring cycles",
		}),
		EntityErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "verity_monitoring_entity_errors_total",
			Help: "Entities that failed within a monitoring cycle",
		}),
		ChangesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_monitoring_changes_total",
			Help: "Detected changes by severity",
		}, []string{"severity"}),
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_monitoring_alerts_created_total",
			Help: "Alerts created by severity",
		}, []string{"severity"}),
		AlertsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "verity_monitoring_alerts_sent_total",
			Help: "Alerts delivered by the notifier",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "verity_monitoring_alert_delivery_failures_total",
			Help: "Alert deliveries that failed and stay pending",
		}),
	}
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) IncEntityChecked(failed bool) {
	if m == nil {
		return
	}
	m.EntitiesChecked.Inc()
	if failed {
		m.EntityErrors.Inc()
	}
}

func (m *Metrics) IncChange(severity string) {
	if m != nil {
		m.ChangesDetected.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) IncAlertCreated(severity string) {
	if m != nil {
		m.AlertsCreated.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) IncAlertSent() {
	if m != nil {
		m.AlertsSent.Inc()
	}
}

func (m *Metrics) IncDeliveryFailure() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}
