package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

// RedisCache shares snapshot blobs between server nodes through Redis.
// Blobs live under SnapshotKey; a per-chunk "latest" key records the newest
// version so Invalidate can find it.
type RedisCache struct {
	client      *redis.Client
	config      CacheConfig
	invalidator Invalidator

	metrics      *CacheMetrics
	metricsMutex sync.Mutex

	latencySum   int64 // nanoseconds
	latencyCount int64
	maxLatency   int64
}

// NewRedisCache connects to Redis. invalidator may be nil.
func NewRedisCache(config CacheConfig, invalidator Invalidator) (*RedisCache, error) {
	d := DefaultCacheConfig()
	if config.DefaultTTL == 0 {
		config.DefaultTTL = d.DefaultTTL
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = d.MaxTTL
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = d.MaxConnections
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = d.PoolTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis snapshot cache initialized: %s", config.RedisURL)
	return &RedisCache{
		client:      rdb,
		config:      config,
		invalidator: invalidator,
		metrics:     &CacheMetrics{LastUpdate: time.Now()},
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, coord vec.ChunkCoord, version uint64) ([]byte, error) {
	start := time.Now()
	defer r.recordLatency(start)

	val, err := r.client.Get(ctx, SnapshotKey(coord, version)).Bytes()
	r.metricsMutex.Lock()
	defer r.metricsMutex.Unlock()
	r.metrics.TotalRequests++
	switch {
	case err == nil:
		r.metrics.CacheHits++
		r.metrics.updateHitRatio()
		return val, nil
	case errors.Is(err, redis.Nil):
		r.metrics.CacheMisses++
		r.metrics.updateHitRatio()
		return nil, ErrCacheMiss
	default:
		r.metrics.CacheMisses++
		r.metrics.updateHitRatio()
		return nil, fmt.Errorf("redis get error: %w", err)
	}
}

// Set writes the blob and moves the latest pointer. Older versions expire on
// their own TTL and are never read again since readers ask for the exact version.
func (r *RedisCache) Set(ctx context.Context, coord vec.ChunkCoord, version uint64, blob []byte) error {
	start := time.Now()
	defer r.recordLatency(start)

	ttl := ttlFor(r.config, 0)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey(coord, version), blob, ttl)
	pipe.Set(ctx, latestKey(coord), strconv.FormatUint(version, 10), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Error("Redis snapshot set error for %s: %v", coord, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Invalidate removes the newest cached version and notifies other nodes.
func (r *RedisCache) Invalidate(ctx context.Context, coord vec.ChunkCoord) error {
	if err := r.drop(ctx, coord); err != nil {
		return err
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, coord.String()); err != nil {
			logging.Error("Failed to publish invalidation for %s: %v", coord, err)
			return err
		}
	}
	return nil
}

// HandleInvalidation drops a chunk invalidated by another node.
func (r *RedisCache) HandleInvalidation(key string) error {
	coord, err := parseInvalidation(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.drop(ctx, coord)
}

func (r *RedisCache) drop(ctx context.Context, coord vec.ChunkCoord) error {
	latest, err := r.client.Get(ctx, latestKey(coord)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis get error: %w", err)
	}
	keys := []string{latestKey(coord)}
	if v, perr := strconv.ParseUint(latest, 10, 64); perr == nil {
		keys = append(keys, SnapshotKey(coord, v))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}

	r.metricsMutex.Lock()
	r.metrics.Invalidations++
	r.metricsMutex.Unlock()
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) GetMetrics() *CacheMetrics {
	r.metricsMutex.Lock()
	m := *r.metrics
	r.metricsMutex.Unlock()

	if count := atomic.LoadInt64(&r.latencyCount); count > 0 {
		m.AvgLatencyMs = float64(atomic.LoadInt64(&r.latencySum)) / float64(count) / 1e6
	}
	m.MaxLatencyMs = float64(atomic.LoadInt64(&r.maxLatency)) / 1e6
	return &m
}

func (r *RedisCache) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()
	atomic.AddInt64(&r.latencySum, latency)
	atomic.AddInt64(&r.latencyCount, 1)
	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			return
		}
	}
}

var _ SnapshotCache = (*RedisCache)(nil)
