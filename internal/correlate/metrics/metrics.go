// Package metrics exposes correlation engine metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects correlation outcomes per strategy.
type Metrics struct {
	duration *prometheus.HistogramVec
	hits     *prometheus.CounterVec
	misses   prometheus.Counter
}

// New registers the correlation metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_correlate_duration_seconds",
			Help:    "Time spent correlating one account to an identity.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_correlate_hits_total",
			Help: "Accounts correlated, by winning strategy.",
		}, []string{"strategy"}),
		misses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_correlate_misses_total",
			Help: "Accounts no strategy could correlate.",
		}),
	}
}

// Observe records one correlation attempt.
func (m *Metrics) Observe(strategy string, hit bool, d time.Duration) {
	m.duration.WithLabelValues(strategy).Observe(d.Seconds())
	if hit {
		m.hits.WithLabelValues(strategy).Inc()
	} else {
		m.misses.Inc()
	}
}
