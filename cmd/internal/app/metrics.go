package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds runtime collectors owned by the app itself. Package
// collectors (invite, realtime) register on the same registry.
type Metrics struct {
	registry *prometheus.Registry

	pruned      prometheus.Counter
	pruneErrors prometheus.Counter
}

// NewMetrics creates a registry with the Go and process collectors.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "ledger",
			Name:      "pruned_total",
			Help:      "Redemption records removed by the janitor.",
		}),
		pruneErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "ledger",
			Name:      "prune_errors_total",
			Help:      "Failed janitor prune runs.",
		}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pruned,
		m.pruneErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observePrune(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pruneErrors.Inc()
		return
	}
	m.pruned.Add(float64(n))
}
