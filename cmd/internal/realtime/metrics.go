package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	relayed     *prometheus.CounterVec
	dropped     prometheus.Counter
	rejected    *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pixelpact",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open realtime websocket connections.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "ws",
			Name:      "relayed_total",
			Help:      "Envelopes accepted from clients and fanned out, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "ws",
			Name:      "dropped_total",
			Help:      "Envelopes not delivered because a peer queue was full.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Upgrade attempts rejected before the handshake, by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.connections, m.relayed, m.dropped, m.rejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) observeRelay(typ string, dropped int) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(typ).Inc()
	if dropped > 0 {
		m.dropped.Add(float64(dropped))
	}
}

func (m *Metrics) observeReject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
