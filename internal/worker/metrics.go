package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	messages *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_messages_total",
			Help: "Work messages handled, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_message_duration_seconds",
			Help:    "Time spent handling one work message.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.messages, m.duration)
	return m
}

func (m *Metrics) observe(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(d.Seconds())
}
