package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections   *prometheus.CounterVec
	AuthFailures prometheus.Counter
	AuthLockouts prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter, by endpoint class",
		}, []string{"class"}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_ratelimit_auth_failures_recorded_total",
			Help: "Failed institute logins recorded for lockout",
		}),
		AuthLockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certledger_ratelimit_auth_lockouts_total",
			Help: "Institute id and IP pairs locked after repeated failed logins",
		}),
	}
}

func (m *Metrics) Rejected(class string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(class).Inc()
}

func (m *Metrics) AuthFailure(lockedOut bool) {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
	if lockedOut {
		m.AuthLockouts.Inc()
	}
}
