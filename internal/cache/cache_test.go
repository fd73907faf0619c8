package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
)

type recordingInvalidator struct {
	keys []string
}

func (r *recordingInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	return nil
}

func (r *recordingInvalidator) Close() error { return nil }

func newTestCache(t *testing.T, inv Invalidator) *MemoryCache {
	t.Helper()
	cfg := DefaultCacheConfig()
	cfg.DefaultTTL = 0
	c, err := NewMemoryCache(cfg, inv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCacheServesExactVersionOnly(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()
	coord := vec.ChunkCoord{X: 1, Y: -2}

	require.NoError(t, c.Set(ctx, coord, 3, []byte("v3")))
	blob, err := c.Get(ctx, coord, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), blob)

	_, err = c.Get(ctx, coord, 4)
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, coord, 4, []byte("v4")))
	_, err = c.Get(ctx, coord, 3)
	assert.True(t, IsCacheMiss(err), "older version must become unreachable")

	// A late writer with an older version does not clobber the newer entry.
	require.NoError(t, c.Set(ctx, coord, 2, []byte("v2")))
	blob, err = c.Get(ctx, coord, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("v4"), blob)

	m := c.GetMetrics()
	assert.Equal(t, int64(4), m.TotalRequests)
	assert.Equal(t, int64(2), m.CacheHits)
}

func TestMemoryCacheInvalidatePublishes(t *testing.T) {
	inv := &recordingInvalidator{}
	c := newTestCache(t, inv)
	ctx := context.Background()
	coord := vec.ChunkCoord{Z: 5}

	require.NoError(t, c.Set(ctx, coord, 1, []byte("x")))
	require.NoError(t, c.Invalidate(ctx, coord))

	_, err := c.Get(ctx, coord, 1)
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, []string{"0:0:5"}, inv.keys)
}

func TestHandleInvalidationDoesNotRepublish(t *testing.T) {
	inv := &recordingInvalidator{}
	c := newTestCache(t, inv)
	ctx := context.Background()
	coord := vec.ChunkCoord{X: -7, Y: 3, Z: 1}

	require.NoError(t, c.Set(ctx, coord, 9, []byte("x")))
	require.NoError(t, c.HandleInvalidation(coord.String()))

	_, err := c.Get(ctx, coord, 9)
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, inv.keys)

	assert.ErrorIs(t, c.HandleInvalidation("bogus"), ErrInvalidKey)
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "snap:1:-2:3:42", SnapshotKey(vec.ChunkCoord{X: 1, Y: -2, Z: 3}, 42))
}
