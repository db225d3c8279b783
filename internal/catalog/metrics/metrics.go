// Package metrics exposes catalog promotion metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts catalog promotion activity.
type Metrics struct {
	created          *prometheus.CounterVec
	uniqueViolations prometheus.Counter
}

// New registers the catalog metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_catalog_created_total",
			Help: "Catalog entries bootstrapped, by application.",
		}, []string{"application"}),
		uniqueViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_catalog_unique_violations_total",
			Help: "Bootstrap races lost to a concurrent writer.",
		}),
	}
}

// Created counts one bootstrapped entry.
func (m *Metrics) Created(application string) {
	m.created.WithLabelValues(application).Inc()
}

// UniqueViolation counts one lost bootstrap race.
func (m *Metrics) UniqueViolation() { m.uniqueViolations.Inc() }
