package invite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Redemption results as exported in metric labels.
const (
	resultRedeemed           = "redeemed"
	resultInvalid            = "invalid"
	resultExpired            = "expired"
	resultAlreadyUsed        = "already_used"
	resultLedgerUnavailable  = "ledger_unavailable"
	resultSessionUnavailable = "session_issuance_failed"
)

// Metrics are the invite service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	issued       prometheus.Counter
	redemptions  *prometheus.CounterVec
	revocations  *prometheus.CounterVec
	claimLatency *prometheus.HistogramVec
}

// NewMetrics registers the invite collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "invite",
			Name:      "issued_total",
			Help:      "Invite tokens minted.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "invite",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpact",
			Subsystem: "invite",
			Name:      "revocations_total",
			Help:      "Revocation attempts by result.",
		}, []string{"result"}),
		claimLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixelpact",
			Subsystem: "ledger",
			Name:      "claim_duration_seconds",
			Help:      "Latency of ledger TryClaim calls by outcome.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.issued, m.redemptions, m.revocations, m.claimLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

func (m *Metrics) observeRedemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRevocation(result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeClaim(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.claimLatency.WithLabelValues(outcome).Observe(d.Seconds())
}
