package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

type collector struct {
	mu  sync.Mutex
	evs []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.evs))
	for _, ev := range c.evs {
		out = append(out, ev.EventType)
	}
	return out
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	var all collector
	_, err := bus.Subscribe(context.Background(), Filter{}, all.handle)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		ev := NewEnvelope("node-a", EventEditRecord, []byte{byte(i)})
		require.NoError(t, bus.Publish(ctx, ev))
	}

	require.Eventually(t, func() bool { return all.len() == 20 }, time.Second, 5*time.Millisecond)
	all.mu.Lock()
	for i, ev := range all.evs {
		assert.Equal(t, []byte{byte(i)}, ev.Payload)
	}
	all.mu.Unlock()

	stats := bus.Metrics()
	assert.Equal(t, uint64(20), stats.Published)
	assert.Equal(t, uint64(20), stats.Consumed)
}

func TestMemoryBusFilters(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	var batches, fromB collector
	_, err := bus.Subscribe(ctx, Filter{Types: []string{EventEditBatch}}, batches.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Sources: []string{"node-b"}}, fromB.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("node-a", EventEditBatch, nil)))
	require.NoError(t, bus.Publish(ctx, NewEnvelope("node-b", EventChunkDirty, nil)))
	require.NoError(t, bus.Publish(ctx, NewEnvelope("node-b", EventEditBatch, nil)))

	require.Eventually(t, func() bool { return batches.len() == 2 && fromB.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventChunkDirty, EventEditBatch}, fromB.types())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	var first, second collector
	sub, err := bus.Subscribe(ctx, Filter{}, first.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{}, second.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	require.Eventually(t, func() bool { return second.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	require.Eventually(t, func() bool { return second.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, first.len())
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, err)

	// First envelope occupies the handler, second fills the buffer.
	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	<-entered
	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))

	low := NewEnvelope("n", EventChunkDirty, nil)
	low.Priority = PriorityLow
	require.NoError(t, bus.Publish(ctx, low))
	assert.Equal(t, uint64(1), bus.Metrics().Dropped)

	high := NewEnvelope("n", EventEditBatch, nil)
	high.Priority = PriorityHigh
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(cctx, high), context.DeadlineExceeded)

	close(release)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEnvelope("n", EventEditRecord, nil)), ErrBusClosed)
}

func TestNewEnvelopeStamps(t *testing.T) {
	a := NewEnvelope("n", EventEditRecord, nil)
	b := NewEnvelope("n", EventEditRecord, nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Version)
	assert.False(t, a.Timestamp.IsZero())
}

func TestChunkEnvelopeRoundTrip(t *testing.T) {
	coord := vec.ChunkCoord{X: -3, Y: 4, Z: 1}
	ev := NewChunkEnvelope("n", EventChunkReady, coord, 42)
	got, err := ParseChunkEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, ChunkEvent{Coord: coord, Version: 42}, got)

	_, err = ParseChunkEvent(NewEnvelope("n", EventChunkReady, nil))
	assert.Error(t, err)
}

func TestForwardNotifications(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	var got collector
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventChunkDirty}}, got.handle)
	require.NoError(t, err)

	w := world.NewWorld(1, 8, nil)
	coord := vec.ChunkCoord{}
	c, _ := w.Acquire(coord)
	require.NoError(t, c.Transition(world.StateGenerating))
	require.NoError(t, w.Install(coord, world.NewChunkData(coord, 8)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ForwardNotifications(ctx, w, bus, "node-a")
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The forwarder subscribes asynchronously; keep editing until it sees one.
	ids := []block.BlockID{block.StoneBlockID, block.DirtBlockID}
	edits := 0
	require.Eventually(t, func() bool {
		_, _ = w.Set(coord, 5, world.Voxel{ID: ids[edits%2]})
		edits++
		return got.len() > 0
	}, time.Second, 5*time.Millisecond)

	got.mu.Lock()
	ev := got.evs[0]
	got.mu.Unlock()
	chunk, err := ParseChunkEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, coord, chunk.Coord)
	assert.Equal(t, "node-a", ev.Source)
}

func TestMetricsExporterAppliesDeltas(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	me.Collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published))

	require.NoError(t, bus.Publish(ctx, NewEnvelope("n", EventEditRecord, nil)))
	me.Collect()
	me.Collect()
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published))
}
