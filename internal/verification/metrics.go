package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verdicts      *prometheus.CounterVec
	TamperSignals *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verifications_total",
			Help: "Verification verdicts by verdict and reason",
		}, []string{"verdict", "reason"}),
		TamperSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verification_tamper_signals_total",
			Help: "Verifications where store and ledger disagree, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observe(res *Result) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(string(res.Verdict), string(res.Reason)).Inc()
	if res.Reason.TamperSignal() {
		m.TamperSignals.WithLabelValues(string(res.Reason)).Inc()
	}
}
