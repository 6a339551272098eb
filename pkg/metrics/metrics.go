// Package metrics exposes the gateway's Prometheus collectors.
//
// Every method is safe on a nil *Metrics so tests and tools can skip metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	connections      prometheus.Gauge
	events           *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	persistAttempts  *prometheus.CounterVec
	busPublishErrors prometheus.Counter
	deliveries       prometheus.Counter
	evictions        prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearth",
			Name:      "ws_connections",
			Help:      "Currently open realtime connections on this process.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "ws_events_total",
			Help:      "Inbound client events by operation.",
		}, []string{"op"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "ws_rejections_total",
			Help:      "Rejected client events by operation and code.",
		}, []string{"op", "code"}),
		persistAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "persist_attempts_total",
			Help:      "Durable write attempts by outcome.",
		}, []string{"outcome"}),
		busPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "bus_publish_errors_total",
			Help:      "Failed publishes to the cross-process bus.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "ws_frames_delivered_total",
			Help:      "Frames queued to local connections.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "ws_slow_consumer_evictions_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.events,
		m.rejections,
		m.persistAttempts,
		m.busPublishErrors,
		m.deliveries,
		m.evictions,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) EventReceived(op string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(op).Inc()
}

func (m *Metrics) EventRejected(op, code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, code).Inc()
}

// PersistAttempt records one durable write attempt. outcome is "ok", "retry" or "failed".
func (m *Metrics) PersistAttempt(outcome string) {
	if m == nil {
		return
	}
	m.persistAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BusPublishFailed() {
	if m == nil {
		return
	}
	m.busPublishErrors.Inc()
}

func (m *Metrics) FrameDelivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) SlowConsumerEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
