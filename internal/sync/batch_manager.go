// Package sync ships authoritative edit records between nodes. Records are
// batched, compressed and published on the event bus; consumers decode the
// batches and feed mirror replicas.
package sync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// MetaRecords is the envelope metadata key holding the batch length.
const MetaRecords = "records"

// Change is one queued record.
type Change struct {
	Record    protocol.EditRecord
	Priority  int // lower priority is dropped first when the buffer is full
	Timestamp time.Time
}

// BatchStats are cumulative BatchManager counters.
type BatchStats struct {
	Batches uint64
	Records uint64
	Dropped uint64
	Failed  uint64
}

// BatchManager accumulates records and publishes them as EditBatch
// envelopes, either every flushEvery or as soon as batchSize records are
// queued.
type BatchManager struct {
	mu         sync.Mutex
	buf        []Change
	batchSize  int
	maxPending int
	stats      BatchStats

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string
	compressor DeltaCompressor
	logger     *logging.Logger

	kick     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatchManager starts the flush loop. A nil compressor means zstd.
func NewBatchManager(bus eventbus.EventBus, source string, batchSize int, flushEvery time.Duration, compressor DeltaCompressor) *BatchManager {
	if compressor == nil {
		compressor = NewZstdCompressor()
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	bm := &BatchManager{
		batchSize:  batchSize,
		maxPending: batchSize * 4,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		logger:     logging.GetSyncLogger(),
		kick:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go bm.loop()
	return bm
}

// AddChange queues a record. When the buffer is full the lowest priority
// change is replaced if the new one outranks it; otherwise the new change
// is dropped. Mirrors recover dropped records through resync.
func (bm *BatchManager) AddChange(ch Change) {
	if ch.Timestamp.IsZero() {
		ch.Timestamp = time.Now()
	}

	bm.mu.Lock()
	if len(bm.buf) >= bm.maxPending {
		lowIdx := -1
		lowPri := ch.Priority
		for i, c := range bm.buf {
			if c.Priority < lowPri {
				lowPri = c.Priority
				lowIdx = i
			}
		}
		bm.stats.Dropped++
		if lowIdx >= 0 {
			bm.buf = append(bm.buf[:lowIdx], bm.buf[lowIdx+1:]...)
			bm.buf = append(bm.buf, ch)
		}
		bm.mu.Unlock()
		return
	}
	bm.buf = append(bm.buf, ch)
	full := len(bm.buf) >= bm.batchSize
	bm.mu.Unlock()

	if full {
		select {
		case bm.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued changes.
func (bm *BatchManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buf)
}

// Stats returns a copy of the counters.
func (bm *BatchManager) Stats() BatchStats {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.stats
}

func (bm *BatchManager) loop() {
	defer close(bm.done)
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-bm.kick:
		case <-bm.quit:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := bm.Flush(ctx); err != nil {
			bm.logger.Warn("batch publish failed: %v", err)
		}
		cancel()
	}
}

// Flush publishes everything queued as batches of at most batchSize
// records.
func (bm *BatchManager) Flush(ctx context.Context) error {
	for {
		bm.mu.Lock()
		n := len(bm.buf)
		if n == 0 {
			bm.mu.Unlock()
			return nil
		}
		if n > bm.batchSize {
			n = bm.batchSize
		}
		changes := make([]Change, n)
		copy(changes, bm.buf[:n])
		bm.buf = append(bm.buf[:0], bm.buf[n:]...)
		bm.mu.Unlock()

		if err := bm.publish(ctx, changes); err != nil {
			bm.mu.Lock()
			bm.stats.Failed++
			bm.mu.Unlock()
			return err
		}
	}
}

func (bm *BatchManager) publish(ctx context.Context, changes []Change) error {
	batch := &protocol.EditBatch{Records: make([]protocol.EditRecord, len(changes))}
	for i, ch := range changes {
		batch.Records[i] = ch.Record
	}

	payload, err := bm.compressor.Compress(batch)
	if err != nil {
		return err
	}

	env := eventbus.NewEnvelope(bm.source, eventbus.EventEditBatch, payload)
	env.Priority = eventbus.PriorityHigh
	env.Metadata = map[string]string{
		eventbus.MetaCompression: bm.compressor.Name(),
		MetaRecords:              strconv.Itoa(len(changes)),
	}
	if err := bm.bus.Publish(ctx, env); err != nil {
		return err
	}

	bm.mu.Lock()
	bm.stats.Batches++
	bm.stats.Records += uint64(len(changes))
	bm.mu.Unlock()
	bm.logger.Trace("published batch of %d records (%dB, %s)", len(changes), len(payload), bm.compressor.Name())
	return nil
}

// Stop ends the loop and flushes what is left.
func (bm *BatchManager) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.quit)
		<-bm.done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := bm.Flush(ctx); err != nil {
			bm.logger.Warn("final batch publish failed: %v", err)
		}
	})
}
