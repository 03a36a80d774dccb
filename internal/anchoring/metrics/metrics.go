package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the issuance and revocation sagas.
type Metrics struct {
	Issuances        *prometheus.CounterVec
	Revocations      *prometheus.CounterVec
	Inconsistencies  *prometheus.CounterVec
	SagaDuration     *prometheus.HistogramVec
	RecoveryOutcomes *prometheus.CounterVec
}

// New registers the anchoring metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		Issuances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_issuances_total",
			Help: "Issuance sagas by outcome (completed, conflict, compensated, inconsistent, rejected)",
		}, []string{"outcome"}),
		Revocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_revocations_total",
			Help: "Revocation sagas by outcome (completed, already_revoked, compensated, inconsistent, rejected)",
		}, []string{"outcome"}),
		Inconsistencies: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_inconsistent_sagas_total",
			Help: "Sagas whose compensation failed, by kind",
		}, []string{"kind"}),
		SagaDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_saga_duration_seconds",
			Help:    "End-to-end saga duration including ledger finality",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"kind"}),
		RecoveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_saga_recovery_total",
			Help: "Sagas resolved by startup recovery, by kind and resulting state",
		}, []string{"kind", "state"}),
	}
}

func (m *Metrics) IssuanceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Issuances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RevocationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Inconsistent(kind string) {
	if m == nil {
		return
	}
	m.Inconsistencies.WithLabelValues(kind).Inc()
}

// ObserveSaga records the duration of a saga. Call with time.Now() at the start.
func (m *Metrics) ObserveSaga(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.SagaDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Recovered(kind, state string) {
	if m == nil {
		return
	}
	m.RecoveryOutcomes.WithLabelValues(kind, state).Inc()
}
