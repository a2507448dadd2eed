package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for source lookups.
type Metrics struct {
	LookupDuration *prometheus.HistogramVec
	LookupOutcome  *prometheus.CounterVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	CircuitOpen    *prometheus.CounterVec
}

// New registers the lookup metrics with reg. A nil registerer yields
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verity_source_lookup_duration_seconds",
			Help:    "Duration of source lookups including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		LookupOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_source_lookups_total",
			Help: "Source lookups by resulting status",
		}, []string{"source", "status"}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_source_cache_hits_total",
			Help: "Source lookups answered from cache",
		}, []string{"source"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_source_cache_misses_total",
			Help: "Source lookups that went upstream",
		}, []string{"source"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_source_retries_total",
			Help: "Retried upstream attempts by error category",
		}, []string{"source", "category"}),
		CircuitOpen: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_source_circuit_open_total",
			Help: "Lookups short-circuited by an open breaker",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveLookup(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.WithLabelValues(source).Observe(d.Seconds())
	m.LookupOutcome.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RecordCacheHit(source string) {
	if m != nil {
		m.CacheHits.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RecordCacheMiss(source string) {
	if m != nil {
		m.CacheMisses.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RecordRetry(source, category string) {
	if m != nil {
		m.Retries.WithLabelValues(source, category).Inc()
	}
}

func (m *Metrics) RecordCircuitOpen(source string) {
	if m != nil {
		m.CircuitOpen.WithLabelValues(source).Inc()
	}
}
