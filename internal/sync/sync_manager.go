package sync

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
)

// SyncConfig wires a SyncManager.
type SyncConfig struct {
	Source         string
	Bus            eventbus.EventBus
	BatchSize      int
	FlushEvery     time.Duration
	Compression    string // zstd, gzip or none
	PublishRecords bool

	// Mirror, when set, receives batches published by other nodes and is
	// updated every UpdateEvery so gap detection runs while idle.
	Mirror      Mirror
	UpdateEvery time.Duration
}

// SyncManager owns the producer side and, optionally, a consumer feeding a
// mirror.
type SyncManager struct {
	bm       *BatchManager
	producer *SyncProducer
	consumer *SyncConsumer
	mirror   Mirror
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSyncManager(cfg SyncConfig) (*SyncManager, error) {
	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	bm := NewBatchManager(cfg.Bus, cfg.Source, cfg.BatchSize, cfg.FlushEvery, compressor)
	sm := &SyncManager{
		bm:       bm,
		producer: NewSyncProducer(cfg.Bus, bm, cfg.Source, cfg.PublishRecords),
		mirror:   cfg.Mirror,
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm.cancel = cancel
	if cfg.Mirror == nil {
		close(sm.done)
	} else {
		consumer, err := NewSyncConsumer(ctx, cfg.Bus, cfg.Source, cfg.Mirror)
		if err != nil {
			cancel()
			bm.Stop()
			return nil, err
		}
		sm.consumer = consumer
		every := cfg.UpdateEvery
		if every <= 0 {
			every = 50 * time.Millisecond
		}
		go sm.tick(ctx, every)
	}

	logging.GetSyncLogger().Info("sync started: source=%s batch=%d flush=%v compression=%s mirror=%t",
		cfg.Source, bm.batchSize, bm.flushEvery, compressor.Name(), cfg.Mirror != nil)
	return sm, nil
}

func (sm *SyncManager) tick(ctx context.Context, every time.Duration) {
	defer close(sm.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.mirror.Update()
		}
	}
}

// Producer is the record sink to register with the authority.
func (sm *SyncManager) Producer() *SyncProducer { return sm.producer }

// Batches exposes the batch manager counters.
func (sm *SyncManager) Batches() BatchStats { return sm.bm.Stats() }

// Consumer returns nil when no mirror is configured.
func (sm *SyncManager) Consumer() *SyncConsumer { return sm.consumer }

func (sm *SyncManager) Stop() {
	if sm.consumer != nil {
		sm.consumer.Stop()
	}
	sm.cancel()
	<-sm.done
	sm.bm.Stop()
	logging.GetSyncLogger().Info("sync stopped")
}
