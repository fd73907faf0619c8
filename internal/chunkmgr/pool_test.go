package chunkmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
)

func TestPoolCoalescesAndSignalsBackpressure(t *testing.T) {
	p := NewPool(1, 1, func(ctx context.Context, j Job) Result { return Result{} }, nil)

	a := Job{Coord: vec.ChunkCoord{X: 1}, Kind: JobLoad}
	b := Job{Coord: vec.ChunkCoord{X: 2}, Kind: JobLoad}

	queued, err := p.Submit(a)
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = p.Submit(a)
	require.NoError(t, err)
	assert.False(t, queued, "duplicate job must coalesce")

	queued, err = p.Submit(b)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, queued)
	assert.False(t, p.Pending(b.Coord, JobLoad))

	// Mesh and load jobs for the same chunk are distinct.
	assert.True(t, p.Pending(a.Coord, JobLoad))
	assert.False(t, p.Pending(a.Coord, JobMesh))
}

func TestPoolRunsJobsAndKeepsPendingUntilRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(2, 4, func(ctx context.Context, j Job) Result {
		return Result{Source: "generator"}
	}, nil)
	p.Start(ctx)

	j := Job{Coord: vec.ChunkCoord{Y: 3}, Kind: JobLoad}
	_, err := p.Submit(j)
	require.NoError(t, err)

	select {
	case res := <-p.Results():
		assert.Equal(t, j.Coord, res.Coord)
		assert.Equal(t, "generator", res.Source)
		assert.False(t, res.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}

	assert.True(t, p.Pending(j.Coord, JobLoad))
	p.Release(j)
	assert.False(t, p.Pending(j.Coord, JobLoad))

	cancel()
	p.Wait()
}

func TestPoolCancelsInvalidJobsAtDequeue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	p := NewPool(1, 4, func(ctx context.Context, j Job) Result {
		ran <- struct{}{}
		return Result{}
	}, func(Job) bool { return false })
	p.Start(ctx)

	_, err := p.Submit(Job{Coord: vec.ChunkCoord{Z: -1}, Kind: JobMesh})
	require.NoError(t, err)

	res := <-p.Results()
	assert.True(t, res.Cancelled)
	assert.Equal(t, JobMesh, res.Kind)
	assert.Equal(t, uint64(1), p.Cancelled())
	assert.Empty(t, ran)
}
