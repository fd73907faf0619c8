package network

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the transport instruments.
type Metrics struct {
	sessions       *prometheus.GaugeVec
	messagesIn     *prometheus.CounterVec
	messagesOut    *prometheus.CounterVec
	protocolErrors prometheus.Counter
	handshakes     *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voxel", Subsystem: "network", Name: "sessions",
			Help: "Open sessions by transport.",
		}, []string{"transport"}),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "network", Name: "messages_received_total",
			Help: "Messages received from replicas, by type.",
		}, []string{"type"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "network", Name: "messages_sent_total",
			Help: "Messages sent to replicas, by type.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "network", Name: "protocol_errors_total",
			Help: "Messages that could not be handled.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "network", Name: "handshakes_total",
			Help: "Session handshakes by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.messagesIn, m.messagesOut, m.protocolErrors, m.handshakes)
	}
	return m
}
