package main

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/storage"
)

func openChunkStore(cfg config.StorageConfig) (storage.ChunkStore, error) {
	switch cfg.Driver {
	case "badger":
		return storage.NewBadgerChunkStore(cfg.Path)
	case "sqlite":
		return storage.OpenSQLiteChunkStore(cfg.Path)
	case "memory":
		logging.Warn("⚠️ chunk store is in memory; edits are lost on restart")
		return storage.NewMemoryChunkStore(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func openPositions(cfg config.PositionsConfig) (storage.PositionRepo, func() error, error) {
	switch cfg.Driver {
	case "redis":
		r, err := storage.NewRedisPositionRepository(&cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "maria":
		r, err := storage.NewMariaPositionRepo(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "memory":
		return storage.NewMemoryPositionRepo(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// invalidationTarget is implemented by both snapshot caches.
type invalidationTarget interface {
	cache.SnapshotCache
	HandleInvalidation(key string) error
}

// openSnapshotCache builds the cache and, when a NATS URL is configured,
// joins it to the cluster-wide invalidation subject. The invalidator is
// closed together with the cache.
func openSnapshotCache(ctx context.Context, cfg *config.Config) (cache.SnapshotCache, error) {
	var inv *cache.NATSInvalidator
	if cfg.Invalidation.NATSURL != "" {
		var err error
		inv, err = cache.NewNATSInvalidator(cfg.Invalidation, cfg.Sync.NodeID)
		if err != nil {
			return nil, fmt.Errorf("invalidator: %w", err)
		}
	}
	var invalidator cache.Invalidator
	if inv != nil {
		invalidator = inv
	}

	var c invalidationTarget
	var err error
	switch cfg.Cache.Driver {
	case "redis":
		c, err = cache.NewRedisCache(cfg.Cache, invalidator)
	default:
		c, err = cache.NewMemoryCache(cfg.Cache, invalidator)
	}
	if err != nil {
		if inv != nil {
			_ = inv.Close()
		}
		return nil, err
	}

	if inv == nil {
		return c, nil
	}
	if err := inv.SubscribeInvalidations(ctx, c.HandleInvalidation); err != nil {
		_ = c.Close()
		_ = inv.Close()
		return nil, err
	}
	return &clusterCache{invalidationTarget: c, inv: inv}, nil
}

type clusterCache struct {
	invalidationTarget
	inv *cache.NATSInvalidator
}

func (c *clusterCache) Close() error {
	err := c.invalidationTarget.Close()
	if ierr := c.inv.Close(); err == nil {
		err = ierr
	}
	return err
}

func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.Driver != "jetstream" {
		return eventbus.NewMemoryBus(cfg.Capacity), nil
	}
	return eventbus.NewJetStreamBus(eventbus.JetStreamConfig{
		URL:       cfg.URL,
		Stream:    cfg.Stream,
		Retention: time.Duration(cfg.Retention) * time.Hour,
	})
}
