// Package metrics exposes Prometheus instruments for the streaming
// session. Every Metrics value owns a private registry so that tests and
// multiple sessions never collide on the default one. All methods are safe
// on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "attention"
	subsystem = "stream"
)

// Drop reasons.
const (
	DropDisconnected = "disconnected"
	DropBufferFull   = "buffer_full"
	DropEncode       = "encode"
)

// Capture tick outcomes.
const (
	TickData    = "data"
	TickNoFace  = "no_face"
	TickPaused  = "paused"
	TickNoFrame = "no_frame"
	TickError   = "error"
)

// States reported by the connection state gauge.
var connectionStates = []string{"connecting", "connected", "reconnecting", "failed", "closed"}

// Metrics holds the session's instruments.
type Metrics struct {
	Registry *prometheus.Registry

	envelopesSent    *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	alerts           prometheus.Counter
	decodeErrors     prometheus.Counter
	reconnects       prometheus.Counter
	connectionState  *prometheus.GaugeVec
	captureTicks     *prometheus.CounterVec
	elapsedSeconds   prometheus.Gauge
	pausedSeconds    prometheus.Gauge
}

// New registers all instruments, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		envelopesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes handed to the transport, by event type",
		}, []string{"event_type"}),
		envelopesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped instead of sent, by event type and reason",
		}, []string{"event_type", "reason"}),
		alerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_received_total",
			Help:      "Alerts received from the analysis server",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Inbound messages that could not be decoded",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnect attempts scheduled after a connection loss",
		}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 for the others",
		}, []string{"state"}),
		captureTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_ticks_total",
			Help:      "Capture loop ticks, by outcome",
		}, []string{"result"}),
		elapsedSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_elapsed_seconds",
			Help:      "Active session time, excluding pauses",
		}),
		pausedSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_paused_seconds",
			Help:      "Accumulated paused time of completed pauses",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EnvelopeSent(eventType string) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EnvelopeDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.envelopesDropped.WithLabelValues(eventType, reason).Inc()
}

func (m *Metrics) AlertReceived() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ConnectionState sets the gauge for state to 1 and every other state to 0.
func (m *Metrics) ConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) CaptureTick(result string) {
	if m == nil {
		return
	}
	m.captureTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionTime(elapsedSeconds, pausedSeconds float64) {
	if m == nil {
		return
	}
	m.elapsedSeconds.Set(elapsedSeconds)
	m.pausedSeconds.Set(pausedSeconds)
}
