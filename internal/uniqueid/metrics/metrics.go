package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Mints *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Mints: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_unique_id_mints_total",
			Help: "Unique id mint attempts by outcome (minted, failed, inconsistent, recovered)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Mint(outcome string) {
	if m == nil {
		return
	}
	m.Mints.WithLabelValues(outcome).Inc()
}
