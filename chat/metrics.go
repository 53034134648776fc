package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts chat and payment activity for a process
type Metrics struct {
	Messages   prometheus.Counter
	Challenges prometheus.Counter
	Attempts   *prometheus.CounterVec
	Exhausted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "x402chat",
			Name:      "messages_sent_total",
			Help:      "Chat messages sent to the resource server.",
		}),
		Challenges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "x402chat",
			Name:      "payment_challenges_total",
			Help:      "Payment challenges received.",
		}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402chat",
			Name:      "payment_attempts_total",
			Help:      "Payment attempts by outcome.",
		}, []string{"outcome"}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "x402chat",
			Name:      "payment_attempts_exhausted_total",
			Help:      "Challenges abandoned after the attempt cap.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Messages, m.Challenges, m.Attempts, m.Exhausted)
	}
	return m
}

func (m *Metrics) observeAttempt(a *Attempt) {
	outcome := string(a.State)
	if a.State == StateFailed {
		outcome = a.Reason()
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}
