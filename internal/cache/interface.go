// Package cache keeps encoded chunk snapshots for bulk sync so a chunk that
// many participants walk into is encoded once per version.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-world/internal/vec"
)

// SnapshotCache stores snapshot blobs keyed by chunk and version. A Set for
// a newer version makes older versions unreachable.
type SnapshotCache interface {
	// Get returns ErrCacheMiss when no blob for exactly this version is held.
	Get(ctx context.Context, coord vec.ChunkCoord, version uint64) ([]byte, error)
	Set(ctx context.Context, coord vec.ChunkCoord, version uint64, blob []byte) error
	// Invalidate drops every version of coord and notifies other nodes.
	Invalidate(ctx context.Context, coord vec.ChunkCoord) error
	Close() error
	GetMetrics() *CacheMetrics
}

// Invalidator fans invalidations out between nodes.
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler receives keys invalidated by other nodes.
type InvalidationHandler func(key string) error

// CacheMetrics is a snapshot of cache counters.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	Invalidations int64   `json:"invalidations"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

func (m *CacheMetrics) updateHitRatio() {
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	m.LastUpdate = time.Now()
}

// CacheConfig configures the snapshot caches.
type CacheConfig struct {
	Driver string `yaml:"driver"` // memory | redis

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	// MaxBytes bounds the in-memory cache by total blob size.
	MaxBytes int64 `yaml:"max_bytes"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// DefaultCacheConfig returns an in-memory configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Driver:         "memory",
		DefaultTTL:     5 * time.Minute,
		MaxTTL:         time.Hour,
		MaxBytes:       64 << 20,
		MaxConnections: 10,
		PoolTimeout:    30 * time.Second,
	}
}

var (
	ErrCacheMiss   = NewCacheError("cache miss")
	ErrCacheClosed = NewCacheError("cache closed")
	ErrInvalidKey  = NewCacheError("invalid key")
)

// CacheError is a cache-level failure.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss reports whether err is (or wraps) ErrCacheMiss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// SnapshotKey is the storage key for one version of a chunk snapshot.
func SnapshotKey(coord vec.ChunkCoord, version uint64) string {
	return fmt.Sprintf("snap:%s:%d", coord, version)
}

// latestKey points at the newest cached version of a chunk.
func latestKey(coord vec.ChunkCoord) string {
	return "snap:" + coord.String() + ":latest"
}

// parseInvalidation turns an invalidation key back into a chunk coordinate.
func parseInvalidation(key string) (vec.ChunkCoord, error) {
	c, err := vec.ParseChunkCoord(key)
	if err != nil {
		return vec.ChunkCoord{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return c, nil
}
