package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for order notification delivery.
type Metrics struct {
	outboxDispatch     *prometheus.CounterVec
	outboxDispatchTime *prometheus.HistogramVec
	outboxBacklog      prometheus.Gauge
	publishes          *prometheus.CounterVec
	publishDuration    *prometheus.HistogramVec
}

// NewMetrics registers and returns notification metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers notification metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketpay_outbox_dispatch_total",
		Help: "Counts dispatcher batches by status.",
	}, []string{"status"})

	outboxDispatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketpay_outbox_dispatch_duration_seconds",
		Help:    "Dispatcher batch durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ticketpay_outbox_backlog",
		Help: "Number of undelivered order notifications seen by the last batch.",
	})

	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketpay_notification_publish_total",
		Help: "Order notification publish outcomes by event type.",
	}, []string{"event_type", "status"})

	publishDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketpay_notification_publish_duration_seconds",
		Help:    "Broker publish latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	if registerer != nil {
		registerer.MustRegister(
			outboxDispatch,
			outboxDispatchTime,
			outboxBacklog,
			publishes,
			publishDuration,
		)
	}

	return &Metrics{
		outboxDispatch:     outboxDispatch,
		outboxDispatchTime: outboxDispatchTime,
		outboxBacklog:      outboxBacklog,
		publishes:          publishes,
		publishDuration:    publishDuration,
	}
}

// RecordOutboxBatch registers dispatch batch metrics.
func (m *Metrics) RecordOutboxBatch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(sanitizeLabel(status)).Inc()
	m.outboxDispatchTime.WithLabelValues(sanitizeLabel(status)).Observe(duration.Seconds())
}

// SetOutboxBacklog updates the backlog gauge.
func (m *Metrics) SetOutboxBacklog(value float64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(value)
}

// RecordPublish records a single broker publish.
func (m *Metrics) RecordPublish(eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	eventLabel := sanitizeLabel(eventType)
	m.publishes.WithLabelValues(eventLabel, sanitizeLabel(status)).Inc()
	m.publishDuration.WithLabelValues(eventLabel).Observe(duration.Seconds())
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
