package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
)

func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		want := vec.Vec3{X: -10, Y: 20, Z: 33}
		require.NoError(t, repo.Save(ctx, "alice", want))

		got, found, err := repo.Load(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("Load unknown participant", func(t *testing.T) {
		_, found, err := repo.Load(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Invalid participant", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, "", vec.Vec3{}))
		_, _, err := repo.Load(ctx, "")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, "bob", vec.Vec3{X: 1}))
		require.NoError(t, repo.Delete(ctx, "bob"))
		assert.ErrorIs(t, repo.Delete(ctx, "bob"), ErrNotFound)
	})

	t.Run("BatchSave", func(t *testing.T) {
		err := repo.BatchSave(ctx, map[string]vec.Vec3{
			"p1": {X: 1, Y: 2, Z: 3},
			"p2": {X: 4, Y: 5, Z: 6},
		})
		require.NoError(t, err)
		got, found, err := repo.Load(ctx, "p2")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, vec.Vec3{X: 4, Y: 5, Z: 6}, got)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, repo.Save(cctx, "carol", vec.Vec3{}), context.Canceled)
	})
}
