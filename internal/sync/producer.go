package sync

import (
	"context"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// SyncProducer receives every applied record from the authority and hands
// it to the BatchManager. With publishRecords set it also publishes each
// record on its own as a low priority EditRecord event for live tails.
type SyncProducer struct {
	bus            eventbus.EventBus
	bm             *BatchManager
	source         string
	publishRecords bool
	logger         *logging.Logger
}

func NewSyncProducer(bus eventbus.EventBus, bm *BatchManager, source string, publishRecords bool) *SyncProducer {
	return &SyncProducer{
		bus:            bus,
		bm:             bm,
		source:         source,
		publishRecords: publishRecords,
		logger:         logging.GetSyncLogger(),
	}
}

// HandleRecord implements replication.RecordSink. It never blocks.
func (sp *SyncProducer) HandleRecord(rec protocol.EditRecord) {
	sp.bm.AddChange(Change{Record: rec, Priority: eventbus.PriorityNormal})
	if !sp.publishRecords {
		return
	}
	ev := eventbus.NewEnvelope(sp.source, eventbus.EventEditRecord, rec.AppendTo(nil))
	ev.Priority = eventbus.PriorityLow
	ev.Metadata = map[string]string{eventbus.MetaChunk: rec.Chunk.String()}
	if err := sp.bus.Publish(context.Background(), ev); err != nil {
		sp.logger.Debug("record event %s not published: %v", rec.String(), err)
	}
}
