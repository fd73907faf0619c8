package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

type snapshotEntry struct {
	version uint64
	blob    []byte
}

// MemoryCache is a cost-bounded in-process SnapshotCache. Only the newest
// version of each chunk is held.
type MemoryCache struct {
	store       *ristretto.Cache
	config      CacheConfig
	invalidator Invalidator

	// serialises version comparisons; ristretto itself is concurrent
	mu     sync.Mutex
	closed atomic.Bool

	requests, hits, misses, invalidations atomic.Int64
}

// NewMemoryCache creates a cache bounded by config.MaxBytes. invalidator may be nil.
func NewMemoryCache(config CacheConfig, invalidator Invalidator) (*MemoryCache, error) {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultCacheConfig().MaxBytes
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1 << 16,
		MaxCost:            config.MaxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{store: store, config: config, invalidator: invalidator}, nil
}

func (m *MemoryCache) Get(ctx context.Context, coord vec.ChunkCoord, version uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrCacheClosed
	}
	m.requests.Add(1)
	if v, ok := m.store.Get(coord.String()); ok {
		if e := v.(snapshotEntry); e.version == version {
			m.hits.Add(1)
			return e.blob, nil
		}
	}
	m.misses.Add(1)
	return nil, ErrCacheMiss
}

func (m *MemoryCache) Set(ctx context.Context, coord vec.ChunkCoord, version uint64, blob []byte) error {
	if m.closed.Load() {
		return ErrCacheClosed
	}
	key := coord.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store.Get(key); ok && v.(snapshotEntry).version > version {
		return nil
	}
	entry := snapshotEntry{version: version, blob: append([]byte(nil), blob...)}
	if m.config.DefaultTTL > 0 {
		m.store.SetWithTTL(key, entry, int64(len(blob)), m.config.DefaultTTL)
	} else {
		m.store.Set(key, entry, int64(len(blob)))
	}
	m.store.Wait()
	return nil
}

// Invalidate drops coord locally and publishes the invalidation.
func (m *MemoryCache) Invalidate(ctx context.Context, coord vec.ChunkCoord) error {
	m.drop(coord)
	if m.invalidator == nil {
		return nil
	}
	return m.invalidator.PublishInvalidation(ctx, coord.String())
}

// HandleInvalidation is the InvalidationHandler for invalidations from
// other nodes; it does not republish.
func (m *MemoryCache) HandleInvalidation(key string) error {
	coord, err := parseInvalidation(key)
	if err != nil {
		return err
	}
	m.drop(coord)
	return nil
}

func (m *MemoryCache) drop(coord vec.ChunkCoord) {
	m.mu.Lock()
	m.store.Del(coord.String())
	m.mu.Unlock()
	m.invalidations.Add(1)
}

func (m *MemoryCache) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.store.Close()
		logging.Debug("snapshot memory cache closed")
	}
	return nil
}

func (m *MemoryCache) GetMetrics() *CacheMetrics {
	metrics := &CacheMetrics{
		TotalRequests: m.requests.Load(),
		CacheHits:     m.hits.Load(),
		CacheMisses:   m.misses.Load(),
		Invalidations: m.invalidations.Load(),
	}
	metrics.updateHitRatio()
	return metrics
}

var _ SnapshotCache = (*MemoryCache)(nil)

// ttlFor clamps a TTL to the configured maximum.
func ttlFor(config CacheConfig, ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = config.DefaultTTL
	}
	if config.MaxTTL > 0 && ttl > config.MaxTTL {
		ttl = config.MaxTTL
	}
	return ttl
}
