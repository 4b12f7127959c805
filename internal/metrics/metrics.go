// Package metrics provides Prometheus metrics for glide servers and clients.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector a glide process exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	HandshakeFailures   *prometheus.CounterVec // labels: reason
	SessionsActive      prometheus.Gauge
	SessionsClosed      *prometheus.CounterVec // labels: reason

	MessagesSent     *prometheus.CounterVec // labels: code
	MessagesReceived *prometheus.CounterVec // labels: code
	ProtocolErrors   *prometheus.CounterVec // labels: kind
	MotionsMerged    prometheus.Counter

	ScreenSwitches *prometheus.CounterVec // labels: screen
	Reconnects     prometheus.Counter
}

// New creates metrics on a fresh registry that also carries the standard
// Go and process collectors. role is attached as a constant label.
func New(role string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"role": role}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name:        "glide_connections_accepted_total",
			Help:        "Connections accepted by the listener",
			ConstLabels: constLabels,
		}),
		HandshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_handshake_failures_total",
			Help:        "Handshakes that did not produce a session",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name:        "glide_sessions_active",
			Help:        "Sessions currently open",
			ConstLabels: constLabels,
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_sessions_closed_total",
			Help:        "Sessions closed, by reason",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_messages_sent_total",
			Help:        "Protocol messages written, by code",
			ConstLabels: constLabels,
		}, []string{"code"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_messages_received_total",
			Help:        "Protocol messages decoded, by code",
			ConstLabels: constLabels,
		}, []string{"code"}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_protocol_errors_total",
			Help:        "Fatal protocol errors, by kind",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		MotionsMerged: f.NewCounter(prometheus.CounterOpts{
			Name:        "glide_motions_merged_total",
			Help:        "Mouse motions folded into a later one before delivery",
			ConstLabels: constLabels,
		}),
		ScreenSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "glide_screen_switches_total",
			Help:        "Changes of active screen, by destination",
			ConstLabels: constLabels,
		}, []string{"screen"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name:        "glide_reconnects_total",
			Help:        "Client reconnection attempts",
			ConstLabels: constLabels,
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.ConnectionsAccepted.Inc()
	}
}

func (m *Metrics) HandshakeFailed(reason string) {
	if m != nil {
		m.HandshakeFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed(reason string) {
	if m != nil {
		m.SessionsActive.Dec()
		m.SessionsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Sent(code string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Received(code string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ProtocolError(kind string) {
	if m != nil {
		m.ProtocolErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Merged() {
	if m != nil {
		m.MotionsMerged.Inc()
	}
}

func (m *Metrics) Switched(screen string) {
	if m != nil {
		m.ScreenSwitches.WithLabelValues(screen).Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.Reconnects.Inc()
	}
}
