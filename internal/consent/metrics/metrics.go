package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the consent pipeline.
type Metrics struct {
	QueueBuffered  prometheus.Gauge
	QueueEvicted   prometheus.Counter
	QueueFlushes   prometheus.Counter
	FlushedEvents  prometheus.Histogram
	SignalsApplied *prometheus.CounterVec
	UpdatesSkipped *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	Receipts       *prometheus.CounterVec
}

// New registers and returns pipeline collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		QueueBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "klaro_geo_queue_buffered_events",
			Help: "Events held in the consent queue awaiting confirmation",
		}),
		QueueEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_queue_evicted_total",
			Help: "Events dropped from a full consent queue",
		}),
		QueueFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_queue_flushes_total",
			Help: "Consent queue flushes",
		}),
		FlushedEvents: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaro_geo_queue_flushed_events",
			Help:    "Events released per consent queue flush",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		SignalsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_consent_mode_applied_total",
			Help: "Consent mode signal maps applied, labeled by trigger",
		}, []string{"trigger"}),
		UpdatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_consent_mode_skipped_total",
			Help: "Consent mode updates not applied, labeled by reason",
		}, []string{"reason"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_manager_notifications_total",
			Help: "Consent manager notifications, labeled by name and outcome",
		}, []string{"name", "outcome"}),
		Receipts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_receipts_total",
			Help: "Consent receipts recorded, labeled by delivery outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SetBuffered(n int) {
	m.QueueBuffered.Set(float64(n))
}

func (m *Metrics) IncEvicted() {
	m.QueueEvicted.Inc()
}

func (m *Metrics) ObserveFlush(n int) {
	m.QueueFlushes.Inc()
	m.FlushedEvents.Observe(float64(n))
}

func (m *Metrics) IncSignalsApplied(trigger string) {
	m.SignalsApplied.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncUpdateSkipped(reason string) {
	m.UpdatesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncNotification(name, outcome string) {
	m.Notifications.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) IncReceipt(outcome string) {
	m.Receipts.WithLabelValues(outcome).Inc()
}
