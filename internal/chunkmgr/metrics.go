package chunkmgr

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus instruments of the chunk manager.
type Metrics struct {
	requested   prometheus.Counter
	generated   prometheus.Counter
	loaded      prometheus.Counter
	meshed      prometheus.Counter
	evicted     prometheus.Counter
	retried     prometheus.Counter
	failed      prometheus.Counter
	cancelled   prometheus.Counter
	quarantined prometheus.Counter
	persisted   prometheus.Counter

	chunks     prometheus.Gauge
	queueDepth prometheus.Gauge
	inflight   prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "voxel", Subsystem: "chunks", Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "voxel", Subsystem: "chunks", Name: name, Help: help})
	}
	m := &Metrics{
		requested:   counter("requested_total", "Chunks requested because a participant became interested."),
		generated:   counter("generated_total", "Chunks produced by the generator."),
		loaded:      counter("loaded_total", "Chunks restored from the store."),
		meshed:      counter("meshed_total", "Meshes installed."),
		evicted:     counter("evicted_total", "Chunks unloaded after interest ended."),
		retried:     counter("retried_total", "Jobs requeued after a transient failure."),
		failed:      counter("failed_total", "Chunks released after exhausting retries."),
		cancelled:   counter("cancelled_total", "Jobs dropped at dequeue or discarded as stale."),
		quarantined: counter("quarantined_total", "Corrupt persisted chunks moved to quarantine."),
		persisted:   counter("persisted_total", "Chunk blobs written to the store."),
		chunks:      gauge("resident", "Chunks currently held in memory."),
		queueDepth:  gauge("queue_depth", "Jobs waiting for a worker."),
		inflight:    gauge("inflight", "Jobs currently running."),
	}
	if reg != nil {
		reg.MustRegister(m.requested, m.generated, m.loaded, m.meshed, m.evicted, m.retried,
			m.failed, m.cancelled, m.quarantined, m.persisted, m.chunks, m.queueDepth, m.inflight)
	}
	return m
}
