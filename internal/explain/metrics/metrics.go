// Package metrics exposes explanation cache metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts explanation cache traffic.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	refreshes prometheus.Counter
}

// New registers the cache metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		hits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_explain_cache_hits_total",
			Help: "Explanation lookups served from cache.",
		}),
		misses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_explain_cache_misses_total",
			Help: "Explanation lookups that hit the catalog.",
		}),
		refreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_explain_cache_refreshes_total",
			Help: "Cache resets caused by catalog movement.",
		}),
	}
}

// Hit counts a cache hit.
func (m *Metrics) Hit() { m.hits.Inc() }

// Miss counts a cache miss.
func (m *Metrics) Miss() { m.misses.Inc() }

// Refreshed counts a watermark-triggered reset.
func (m *Metrics) Refreshed() { m.refreshes.Inc() }
