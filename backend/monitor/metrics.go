package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors fed by the watcher hierarchy. A nil *Metrics
// disables recording, which keeps test construction lightweight.
type Metrics struct {
	entries  prometheus.Gauge
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics builds the monitor collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microfescout_catalog_entries",
			Help: "Host+path entries currently present in the catalog.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microfescout_watch_events_total",
			Help: "Watch events processed, by resource kind.",
		}, []string{"resource"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microfescout_watch_failures_total",
			Help: "Watcher terminations caused by upstream errors, by resource kind.",
		}, []string{"resource"}),
	}
	if reg != nil {
		reg.MustRegister(m.entries, m.events, m.failures)
	}
	return m
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *Metrics) observeEvent(resource string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(resource).Inc()
}

func (m *Metrics) observeFailure(resource string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(resource).Inc()
}
