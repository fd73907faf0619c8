package eventbus

import (
	"context"
	"strconv"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// ChunkEvent is the decoded form of a ChunkReady or ChunkDirty envelope.
type ChunkEvent struct {
	Coord   vec.ChunkCoord
	Version uint64
}

// NewChunkEnvelope builds a chunk notification. The coordinate and version
// travel in metadata; the payload stays empty.
func NewChunkEnvelope(source, eventType string, coord vec.ChunkCoord, version uint64) *Envelope {
	ev := NewEnvelope(source, eventType, nil)
	ev.Priority = PriorityLow
	ev.Metadata = map[string]string{
		MetaChunk:   coord.String(),
		MetaVersion: strconv.FormatUint(version, 10),
	}
	return ev
}

// ParseChunkEvent reads the metadata written by NewChunkEnvelope.
func ParseChunkEvent(ev *Envelope) (ChunkEvent, error) {
	coord, err := vec.ParseChunkCoord(ev.Metadata[MetaChunk])
	if err != nil {
		return ChunkEvent{}, err
	}
	version, err := strconv.ParseUint(ev.Metadata[MetaVersion], 10, 64)
	if err != nil {
		return ChunkEvent{}, err
	}
	return ChunkEvent{Coord: coord, Version: version}, nil
}

// ForwardNotifications republishes the world's Ready and Dirty
// notifications on the bus until ctx is done. Loaded and Evicted stay
// node-local.
func ForwardNotifications(ctx context.Context, w *world.World, bus EventBus, source string) {
	notes, cancel := w.Subscribe(256)
	defer cancel()
	logger := logging.GetWorldLogger()

	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			var eventType string
			switch note.Kind {
			case world.NotifyReady:
				eventType = EventChunkReady
			case world.NotifyDirty:
				eventType = EventChunkDirty
			default:
				continue
			}
			ev := NewChunkEnvelope(source, eventType, note.Coord, note.Version)
			if err := bus.Publish(ctx, ev); err != nil && ctx.Err() == nil {
				logger.Warn("forward %s %s: %v", eventType, note.Coord, err)
			}
		}
	}
}
