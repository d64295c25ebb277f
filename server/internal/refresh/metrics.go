package refresh

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "casewatch_refresh"

// Metrics counts what the aggregator accepts and publishes.
type Metrics struct {
	eventsTotal   *prometheus.CounterVec
	messagesTotal *prometheus.CounterVec
}

// NewMetrics returns an unregistered collector.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Change events received, by outcome (accepted, ignored).",
			}, []string{"outcome"},
		),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Refresh messages published to sinks, by event.",
			}, []string{"event"},
		),
	}
}

// Describe is part of prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.eventsTotal.Describe(ch)
	m.messagesTotal.Describe(ch)
}

// Collect is part of prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.eventsTotal.Collect(ch)
	m.messagesTotal.Collect(ch)
}

func (m *Metrics) events(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) published(event string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(event).Inc()
}
