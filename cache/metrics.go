package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache checks, saves and loads.
type Metrics struct {
	checks *prometheus.CounterVec
	saves  *prometheus.CounterVec
	loads  *prometheus.CounterVec
}

// NewMetrics creates the cache counters and registers them on reg.
// A nil reg creates unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cairn",
				Subsystem: "cache",
				Name:      "checks_total",
				Help:      "Cache checks by result (hit, miss)",
			},
			[]string{"result"},
		),
		saves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cairn",
				Subsystem: "cache",
				Name:      "saves_total",
				Help:      "Committed cache saves by cacher type",
			},
			[]string{"cacher"},
		),
		loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cairn",
				Subsystem: "cache",
				Name:      "loads_total",
				Help:      "Cache loads by cacher type and outcome (ok, miss, corrupt, error)",
			},
			[]string{"cacher", "outcome"},
		),
	}
}

func (m *Metrics) check(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.checks.WithLabelValues(result).Inc()
}

func (m *Metrics) save(cacher string) {
	m.saves.WithLabelValues(cacher).Inc()
}

func (m *Metrics) load(cacher, outcome string) {
	m.loads.WithLabelValues(cacher, outcome).Inc()
}
