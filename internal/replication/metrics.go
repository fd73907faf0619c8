package replication

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus instruments of the replication layer.
type Metrics struct {
	applied   prometheus.Counter
	rejected  *prometheus.CounterVec
	undone    prometheus.Counter
	broadcast prometheus.Counter
	dropped   prometheus.Counter
	snapshots prometheus.Counter
	desyncs   prometheus.Counter
	resyncs   prometheus.Counter
	peers     prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "voxel", Subsystem: "replication", Name: name, Help: help})
	}
	m := &Metrics{
		applied: counter("edits_applied_total", "Edits applied by the authority."),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "replication", Name: "edits_rejected_total",
			Help: "Edits refused by the authority, by reason.",
		}, []string{"reason"}),
		undone:    counter("edits_undone_total", "Edits reverted through Undo."),
		broadcast: counter("records_broadcast_total", "Edit records queued to peers."),
		dropped:   counter("records_dropped_total", "Records not queued because a peer outbox was full."),
		snapshots: counter("snapshots_sent_total", "Chunk snapshots queued to peers."),
		desyncs:   counter("desyncs_total", "Replica desyncs detected."),
		resyncs:   counter("resync_requests_total", "Resync requests issued or served."),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel", Subsystem: "replication", Name: "peers", Help: "Connected peers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.applied, m.rejected, m.undone, m.broadcast, m.dropped,
			m.snapshots, m.desyncs, m.resyncs, m.peers)
	}
	return m
}
