// Package metrics provides Prometheus metrics for chatwire.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "chatwire"

// Relay frame directions.
const (
	DirectionClientToServer = "client_to_server"
	DirectionServerToClient = "server_to_client"
)

// Metrics holds all Prometheus metrics for chatwire. Every method is safe
// to call on a nil receiver, so components can treat metrics as optional.
type Metrics struct {
	Registry *prometheus.Registry

	activeSessions     prometheus.Gauge
	sessionDuration    prometheus.Histogram
	messagesTotal      *prometheus.CounterVec
	throttledTotal     prometheus.Counter
	mailboxEnqueued    prometheus.Counter
	mailboxDelivered   prometheus.Counter
	decodeErrors       prometheus.Counter
	deliveryFailures   prometheus.Counter
	monitorSubscribers prometheus.Gauge
	monitorDropped     *prometheus.CounterVec
	relayLinks         prometheus.Gauge
	relayFramesTotal   *prometheus.CounterVec
}

// New creates a Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently registered chat sessions.",
		}),

		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of completed chat sessions in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total messages routed, by envelope kind.",
		}, []string{"kind"}),

		throttledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Total messages dropped by the rate limiter.",
		}),

		mailboxEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_enqueued_total",
			Help:      "Total private messages queued for offline recipients.",
		}),

		mailboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_delivered_total",
			Help:      "Total queued messages delivered on reconnect.",
		}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total malformed frames that closed a connection.",
		}),

		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total failed deliveries to individual sessions during dispatch.",
		}),

		monitorSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_subscribers",
			Help:      "Number of currently connected monitoring subscribers.",
		}),

		monitorDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_dropped_total",
			Help:      "Monitoring data dropped under backpressure, by what was dropped.",
		}, []string{"what"}),

		relayLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_links",
			Help:      "Number of currently active relay links.",
		}),

		relayFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Total frames forwarded by the relay, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionDuration,
		m.messagesTotal,
		m.throttledTotal,
		m.mailboxEnqueued,
		m.mailboxDelivered,
		m.decodeErrors,
		m.deliveryFailures,
		m.monitorSubscribers,
		m.monitorDropped,
		m.relayLinks,
		m.relayFramesTotal,
	)

	return m
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge and records the
// session's lifetime.
func (m *Metrics) SessionClosed(durationSec float64) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionDuration.Observe(durationSec)
}

// MessageRouted counts one routed message of the given envelope kind.
func (m *Metrics) MessageRouted(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
}

// Throttled counts one message dropped by the rate limiter.
func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}

// MailboxEnqueued counts one message queued for an offline recipient.
func (m *Metrics) MailboxEnqueued() {
	if m == nil {
		return
	}
	m.mailboxEnqueued.Inc()
}

// MailboxDelivered counts n queued messages delivered on reconnect.
func (m *Metrics) MailboxDelivered(n int) {
	if m == nil {
		return
	}
	m.mailboxDelivered.Add(float64(n))
}

// DecodeError counts one malformed frame.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// DeliveryFailure counts one failed per-session delivery.
func (m *Metrics) DeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// SubscriberConnected adjusts the monitoring subscriber gauge.
func (m *Metrics) SubscriberConnected(delta int) {
	if m == nil {
		return
	}
	m.monitorSubscribers.Add(float64(delta))
}

// EventDropped counts one event lost because the bridge buffer was full.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.monitorDropped.WithLabelValues("event").Inc()
}

// SubscriberDropped counts one subscriber disconnected for being too slow.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.monitorDropped.WithLabelValues("subscriber").Inc()
}

// LinkOpened increments the active relay link gauge.
func (m *Metrics) LinkOpened() {
	if m == nil {
		return
	}
	m.relayLinks.Inc()
}

// LinkClosed decrements the active relay link gauge.
func (m *Metrics) LinkClosed() {
	if m == nil {
		return
	}
	m.relayLinks.Dec()
}

// FrameRelayed counts one forwarded relay frame in the given direction.
func (m *Metrics) FrameRelayed(direction string) {
	if m == nil {
		return
	}
	m.relayFramesTotal.WithLabelValues(direction).Inc()
}
