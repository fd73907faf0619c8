package eventbus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter mirrors bus Stats into Prometheus counters. It polls the
// bus, so it works with any EventBus implementation.
type MetricsExporter struct {
	bus  EventBus
	quit chan struct{}
	done chan struct{}
	once sync.Once

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge

	prev Stats
}

// NewMetricsExporter registers the bus metrics on reg. A nil reg leaves
// them unregistered.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		bus:  bus,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "eventbus",
			Name:      "messages_published_total",
			Help:      "Envelopes accepted by the bus.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Envelopes delivered to subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Envelopes dropped by back-pressure or decode errors.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Subsystem: "eventbus",
			Name:      "messages_inflight",
			Help:      "Envelopes queued but not yet delivered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	}
	return me
}

// Start polls the bus every interval until Stop.
func (m *MetricsExporter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go m.loop(interval)
}

// Stop ends polling.
func (m *MetricsExporter) Stop() {
	m.once.Do(func() {
		close(m.quit)
		<-m.done
	})
}

func (m *MetricsExporter) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.quit:
			return
		}
	}
}

// Collect applies the delta since the previous poll. Counters only move
// forward, so a bus reporting smaller values is ignored.
func (m *MetricsExporter) Collect() {
	stats := m.bus.Metrics()
	if stats.Published > m.prev.Published {
		m.published.Add(float64(stats.Published - m.prev.Published))
	}
	if stats.Consumed > m.prev.Consumed {
		m.consumed.Add(float64(stats.Consumed - m.prev.Consumed))
	}
	if stats.Dropped > m.prev.Dropped {
		m.dropped.Add(float64(stats.Dropped - m.prev.Dropped))
	}
	m.inflight.Set(float64(stats.InFlight))
	m.prev = stats
}
