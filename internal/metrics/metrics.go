// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "pvpgn_gateway"

// Frame directions.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Backend fault kinds.
const (
	FaultHandshake = "handshake"
	FaultStream    = "stream"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
	BackendStates  *prometheus.CounterVec
	EventsDecoded  *prometheus.CounterVec
	Frames         *prometheus.CounterVec
	FramesDropped  prometheus.Counter
	Errors         *prometheus.CounterVec
	ActiveBackends prometheus.Gauge
	BackendFaults  *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Number of connected front-end sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Total number of front-end sessions opened",
		}),
		BackendStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_state_transitions_total",
			Help:      "Backend connection state transitions by target state",
		}, []string{"state"}),
		EventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_decoded_total",
			Help:      "Protocol events received from backends by kind",
		}, []string{"kind"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Front-end envelopes by direction and type",
		}, []string{"direction", "type"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound envelopes dropped because a session queue was full",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Error envelopes sent to front ends by source",
		}, []string{"source"}),
		ActiveBackends: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_backends",
			Help:      "Number of backend connections owned by sessions",
		}),
		BackendFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_faults_total",
			Help:      "Backend connections ended by an error, by fault kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) BackendOpened() {
	if m == nil {
		return
	}
	m.ActiveBackends.Inc()
}

func (m *Metrics) BackendClosed() {
	if m == nil {
		return
	}
	m.ActiveBackends.Dec()
}

func (m *Metrics) BackendState(state string) {
	if m == nil {
		return
	}
	m.BackendStates.WithLabelValues(state).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.EventsDecoded.WithLabelValues(kind).Inc()
}

func (m *Metrics) Frame(direction, typ string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) Error(source string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(source).Inc()
}

func (m *Metrics) BackendFault(kind string) {
	if m == nil {
		return
	}
	m.BackendFaults.WithLabelValues(kind).Inc()
}
