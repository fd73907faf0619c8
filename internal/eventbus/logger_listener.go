package eventbus

import (
	"context"

	"github.com/annel0/voxel-world/internal/logging"
)

// StartLoggingListener logs every envelope at debug level.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	logger := logging.GetSyncLogger()
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("[EventBus] %s %s src=%s prio=%d size=%dB chunk=%s",
			ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload), ev.Metadata[MetaChunk])
	})
	if err != nil {
		return nil, err
	}
	logger.Info("logging listener subscribed to all events")
	return sub, nil
}
