package sync

import (
	"context"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// Mirror is what a consumer feeds. *replication.Replica satisfies it: the
// batch is enqueued and reconciled on the next Update.
type Mirror interface {
	Handle(msg protocol.Message)
	Update()
}

// ConsumerStats are cumulative SyncConsumer counters.
type ConsumerStats struct {
	Batches uint64
	Records uint64
	Errors  uint64
}

// SyncConsumer applies EditBatch envelopes published by other nodes to a
// mirror.
type SyncConsumer struct {
	sub    eventbus.Subscription
	source string
	mirror Mirror
	codecs map[string]DeltaCompressor
	logger *logging.Logger

	batches atomic.Uint64
	records atomic.Uint64
	errors  atomic.Uint64
}

// NewSyncConsumer subscribes to EditBatch envelopes. Batches from source
// itself are skipped.
func NewSyncConsumer(ctx context.Context, bus eventbus.EventBus, source string, mirror Mirror) (*SyncConsumer, error) {
	sc := &SyncConsumer{
		source: source,
		mirror: mirror,
		codecs: map[string]DeltaCompressor{
			CompressionNone: NewPassthroughCompressor(),
			CompressionZstd: NewZstdCompressor(),
			CompressionGzip: NewGzipCompressor(),
		},
		logger: logging.GetSyncLogger(),
	}
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventEditBatch}}, sc.handle)
	if err != nil {
		return nil, err
	}
	sc.sub = sub
	return sc, nil
}

func (sc *SyncConsumer) handle(_ context.Context, ev *eventbus.Envelope) {
	if ev.Source == sc.source {
		return
	}
	name := ev.Metadata[eventbus.MetaCompression]
	if name == "" {
		name = CompressionZstd
	}
	codec, ok := sc.codecs[name]
	if !ok {
		sc.errors.Add(1)
		sc.logger.Warn("batch %s from %s: unknown compression %q", ev.ID, ev.Source, name)
		return
	}

	batch, err := codec.Decompress(ev.Payload)
	if err != nil {
		sc.errors.Add(1)
		sc.logger.Warn("batch %s from %s: %v", ev.ID, ev.Source, err)
		return
	}

	sc.mirror.Handle(batch)
	sc.mirror.Update()
	sc.batches.Add(1)
	sc.records.Add(uint64(len(batch.Records)))
	sc.logger.Trace("applied batch %s: %d records from %s", ev.ID, len(batch.Records), ev.Source)
}

// Stats returns the counters.
func (sc *SyncConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		Batches: sc.batches.Load(),
		Records: sc.records.Load(),
		Errors:  sc.errors.Load(),
	}
}

func (sc *SyncConsumer) Stop() { sc.sub.Unsubscribe() }
