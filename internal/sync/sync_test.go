package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/replication"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

const testSize = 8

func record(seq uint64) protocol.EditRecord {
	return protocol.EditRecord{
		Chunk:      vec.ChunkCoord{X: 1, Y: -2, Z: 0},
		Index:      uint32(seq),
		NewID:      block.StoneBlockID,
		Sequence:   seq,
		Originator: "alice",
		Timestamp:  time.Now().UnixNano(),
	}
}

// busRecorder captures envelopes synchronously.
type busRecorder struct {
	mu   gosync.Mutex
	evs  []*eventbus.Envelope
	fail error
}

func (b *busRecorder) Publish(_ context.Context, ev *eventbus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.evs = append(b.evs, ev)
	return nil
}

func (b *busRecorder) Subscribe(context.Context, eventbus.Filter, eventbus.Handler) (eventbus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *busRecorder) Metrics() eventbus.Stats { return eventbus.Stats{} }
func (b *busRecorder) Close() error            { return nil }

func (b *busRecorder) envelopes() []*eventbus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*eventbus.Envelope(nil), b.evs...)
}

func TestCompressorsRoundTrip(t *testing.T) {
	batch := &protocol.EditBatch{Records: []protocol.EditRecord{record(1), record(2), record(3)}}
	for _, name := range []string{CompressionNone, CompressionZstd, CompressionGzip} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCompressor(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			payload, err := c.Compress(batch)
			require.NoError(t, err)
			got, err := c.Decompress(payload)
			require.NoError(t, err)
			assert.Equal(t, batch.Records, got.Records)
		})
	}
}

func TestCompressorDefaultsAndErrors(t *testing.T) {
	c, err := NewCompressor("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c.Name())

	_, err = NewCompressor("lz4")
	assert.Error(t, err)

	_, err = NewZstdCompressor().Decompress([]byte("not zstd"))
	assert.Error(t, err)
	_, err = NewGzipCompressor().Decompress([]byte("not gzip"))
	assert.Error(t, err)
}

func TestBatchManagerFlushesOnSize(t *testing.T) {
	bus := &busRecorder{}
	bm := NewBatchManager(bus, "node-a", 3, time.Hour, nil)
	defer bm.Stop()

	for seq := uint64(1); seq <= 3; seq++ {
		bm.AddChange(Change{Record: record(seq)})
	}

	require.Eventually(t, func() bool { return len(bus.envelopes()) == 1 }, time.Second, 5*time.Millisecond)
	ev := bus.envelopes()[0]
	assert.Equal(t, eventbus.EventEditBatch, ev.EventType)
	assert.Equal(t, "node-a", ev.Source)
	assert.Equal(t, eventbus.PriorityHigh, ev.Priority)
	assert.Equal(t, CompressionZstd, ev.Metadata[eventbus.MetaCompression])
	assert.Equal(t, "3", ev.Metadata[MetaRecords])

	batch, err := NewZstdCompressor().Decompress(ev.Payload)
	require.NoError(t, err)
	require.Len(t, batch.Records, 3)
	assert.Equal(t, uint64(1), batch.Records[0].Sequence)
	assert.Equal(t, uint64(3), batch.Records[2].Sequence)
}

func TestBatchManagerFlushSplitsAndStopDrains(t *testing.T) {
	bus := &busRecorder{}
	bm := NewBatchManager(bus, "node-a", 4, time.Hour, NewPassthroughCompressor())
	bm.mu.Lock()
	for seq := uint64(1); seq <= 10; seq++ {
		bm.buf = append(bm.buf, Change{Record: record(seq)})
	}
	bm.mu.Unlock()

	bm.Stop()
	evs := bus.envelopes()
	require.Len(t, evs, 3)
	var sizes []string
	for _, ev := range evs {
		sizes = append(sizes, ev.Metadata[MetaRecords])
	}
	assert.Equal(t, []string{"4", "4", "2"}, sizes)
	assert.Equal(t, BatchStats{Batches: 3, Records: 10}, bm.Stats())
	assert.Zero(t, bm.Pending())
	bm.Stop()
}

func TestBatchManagerOverflowKeepsHigherPriority(t *testing.T) {
	bm := &BatchManager{batchSize: 2, maxPending: 2, kick: make(chan struct{}, 1)}

	bm.AddChange(Change{Record: record(1), Priority: 1})
	bm.AddChange(Change{Record: record(2), Priority: 3})
	bm.AddChange(Change{Record: record(3), Priority: 0}) // dropped
	bm.AddChange(Change{Record: record(4), Priority: 5}) // replaces seq 1

	require.Equal(t, 2, bm.Pending())
	assert.Equal(t, uint64(2), bm.buf[0].Record.Sequence)
	assert.Equal(t, uint64(4), bm.buf[1].Record.Sequence)
	assert.Equal(t, uint64(2), bm.Stats().Dropped)
}

func TestBatchManagerPublishFailure(t *testing.T) {
	bus := &busRecorder{fail: errors.New("down")}
	bm := NewBatchManager(bus, "node-a", 10, time.Hour, nil)
	defer bm.Stop()

	bm.AddChange(Change{Record: record(1)})
	assert.Error(t, bm.Flush(context.Background()))
	assert.Equal(t, uint64(1), bm.Stats().Failed)
}

func TestProducerPublishesRecordEvents(t *testing.T) {
	bus := &busRecorder{}
	bm := NewBatchManager(bus, "node-a", 100, time.Hour, nil)
	defer bm.Stop()
	sp := NewSyncProducer(bus, bm, "node-a", true)

	sp.HandleRecord(record(7))
	assert.Equal(t, 1, bm.Pending())

	evs := bus.envelopes()
	require.Len(t, evs, 1)
	assert.Equal(t, eventbus.EventEditRecord, evs[0].EventType)
	assert.Equal(t, "1:-2:0", evs[0].Metadata[eventbus.MetaChunk])

	var rec protocol.EditRecord
	require.NoError(t, rec.Unmarshal(evs[0].Payload))
	assert.Equal(t, uint64(7), rec.Sequence)
}

type mirrorRecorder struct {
	mu      gosync.Mutex
	records []protocol.EditRecord
	updates int
}

func (m *mirrorRecorder) Handle(msg protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := msg.(*protocol.EditBatch); ok {
		m.records = append(m.records, b.Records...)
	}
}

func (m *mirrorRecorder) Update() {
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()
}

func (m *mirrorRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestConsumerSkipsOwnAndBadBatches(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()
	mirror := &mirrorRecorder{}
	sc, err := NewSyncConsumer(context.Background(), bus, "node-b", mirror)
	require.NoError(t, err)
	defer sc.Stop()

	gz := NewGzipCompressor()
	payload, err := gz.Compress(&protocol.EditBatch{Records: []protocol.EditRecord{record(1), record(2)}})
	require.NoError(t, err)
	publish := func(source, compression string, payload []byte) {
		ev := eventbus.NewEnvelope(source, eventbus.EventEditBatch, payload)
		ev.Metadata = map[string]string{eventbus.MetaCompression: compression}
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	publish("node-b", CompressionGzip, payload) // own
	publish("node-a", "brotli", payload)        // unknown codec
	publish("node-a", CompressionZstd, payload) // wrong codec
	publish("node-a", CompressionGzip, payload)

	require.Eventually(t, func() bool { return sc.Stats().Batches == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ConsumerStats{Batches: 1, Records: 2, Errors: 2}, sc.Stats())
	assert.Equal(t, 2, mirror.count())
}

func TestMirrorConvergesThroughBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	defer bus.Close()
	ctx := context.Background()
	origin := vec.ChunkCoord{}

	// authority node
	authWorld := world.NewWorld(1, testSize, nil)
	c, _ := authWorld.Acquire(origin)
	require.NoError(t, c.Transition(world.StateGenerating))
	require.NoError(t, authWorld.Install(origin, world.NewChunkData(origin, testSize)))

	rcfg := replication.DefaultConfig()
	rcfg.Reach = 0
	rcfg.MaxGapTicks = 1
	hub := replication.NewHub(authWorld, nil, rcfg, nil)

	// mirror node: resyncs are answered from the authority's hub
	mirrorWorld := world.NewWorld(1, testSize, nil)
	var mirror *replication.Replica
	mirror = replication.NewReplica(mirrorWorld, rcfg, replication.SenderFunc(func(msg protocol.Message) error {
		req, ok := msg.(*protocol.ResyncRequest)
		if !ok {
			return nil
		}
		snap, err := hub.Snapshot(ctx, req.Chunk)
		if err != nil {
			return err
		}
		mirror.ReceiveSnapshot(snap)
		return nil
	}), nil)

	sm, err := NewSyncManager(SyncConfig{
		Source:      "mirror",
		Bus:         bus,
		BatchSize:   4,
		FlushEvery:  5 * time.Millisecond,
		Compression: CompressionZstd,
		Mirror:      mirror,
		UpdateEvery: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sm.Stop()

	producerBM := NewBatchManager(bus, "authority", 4, 5*time.Millisecond, nil)
	defer producerBM.Stop()
	auth := replication.NewAuthority(authWorld, rcfg,
		replication.DefaultRules(authWorld.Catalog(), nil, nil, 0), nil,
		NewSyncProducer(bus, producerBM, "authority", false))

	for i := 0; i < 10; i++ {
		out := auth.RequestEdit(ctx, "alice", vec.Vec3{X: i % testSize, Y: i / testSize, Z: 1}, block.DirtBlockID)
		require.True(t, out.Applied, "edit %d: %s", i, out.Reason)
	}

	want, err := authWorld.Snapshot(origin)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := mirrorWorld.Snapshot(origin)
		if err != nil {
			return false
		}
		for i := range want.Cells {
			if !got.Cells[i].SameCell(want.Cells[i]) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotZero(t, sm.Consumer().Stats().Batches)
	assert.Zero(t, sm.Batches().Records)
}
