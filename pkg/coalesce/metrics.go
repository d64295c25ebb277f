package coalesce

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "casewatch_coalesce"

// Metrics is a prometheus.Collector for coalescing engines. One Metrics may
// be shared by several instances; series are labelled by Config.Name.
// All recording methods are safe on a nil *Metrics.
type Metrics struct {
	enqueuedTotal   *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	deliveredKeys   *prometheus.CounterVec
	notifierPanics  *prometheus.CounterVec
	trackedKeys     *prometheus.GaugeVec
}

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		enqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "enqueued_total",
				Help:      "The number of keys enqueued, duplicates included.",
			}, []string{"engine"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deliveries_total",
				Help:      "The number of notifier calls that completed.",
			}, []string{"engine", "kind"},
		),
		deliveredKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivered_keys_total",
				Help:      "The number of keys handed to the notifier.",
			}, []string{"engine", "kind"},
		),
		notifierPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifier_panics_total",
				Help:      "The number of notifier calls that panicked.",
			}, []string{"engine"},
		),
		trackedKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tracked_keys",
				Help:      "The number of keys pending or awaiting their deadline.",
			}, []string{"engine"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.enqueuedTotal.Describe(ch)
	m.deliveriesTotal.Describe(ch)
	m.deliveredKeys.Describe(ch)
	m.notifierPanics.Describe(ch)
	m.trackedKeys.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.enqueuedTotal.Collect(ch)
	m.deliveriesTotal.Collect(ch)
	m.deliveredKeys.Collect(ch)
	m.notifierPanics.Collect(ch)
	m.trackedKeys.Collect(ch)
}

func (m *Metrics) enqueued(engine string, n int) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(engine).Add(float64(n))
}

func (m *Metrics) delivered(engine, kind string, n int) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(engine, kind).Inc()
	m.deliveredKeys.WithLabelValues(engine, kind).Add(float64(n))
}

func (m *Metrics) notifierPanicked(engine string) {
	if m == nil {
		return
	}
	m.notifierPanics.WithLabelValues(engine).Inc()
}

func (m *Metrics) tracked(engine string, n int) {
	if m == nil {
		return
	}
	m.trackedKeys.WithLabelValues(engine).Set(float64(n))
}
