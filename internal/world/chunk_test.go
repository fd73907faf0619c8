package world

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

func TestLoadStateTransitions(t *testing.T) {
	c := NewChunk(vec.ChunkCoord{}, 4)
	assert.Equal(t, StateUnloaded, c.State())

	require.NoError(t, c.Transition(StateGenerating))
	require.NoError(t, c.Transition(StateLoaded))
	require.NoError(t, c.Transition(StateMeshing))
	require.NoError(t, c.Transition(StateReady))

	err := c.Transition(StateGenerating)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, c.Transition(StateMeshing))
	require.NoError(t, c.Transition(StateLoaded))
	require.NoError(t, c.Transition(StateUnloaded))
}

func TestChunkGetOutOfBounds(t *testing.T) {
	c := NewChunk(vec.ChunkCoord{}, 4)
	_, err := c.Get(64)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = c.Get(-1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestChunkFillAndExport(t *testing.T) {
	coord := vec.ChunkCoord{X: 1, Y: -2, Z: 0}
	data := NewChunkData(coord, 4)
	data.Cells[0] = Block(block.StoneBlockID)
	data.Cells[5] = Voxel{ID: block.WoodBlockID, Variant: 2}
	data.Meta[5] = Metadata{Health: 7, Owner: "p1"}
	data.Meta[6] = Metadata{Health: 1} // air cell, dropped
	data.Version = 9
	data.LastSeq = 3

	c := NewChunk(coord, 4)
	require.NoError(t, c.Fill(data))
	assert.True(t, c.Dirty())
	assert.False(t, c.Modified())
	assert.Equal(t, uint64(9), c.Version())
	assert.Equal(t, uint64(3), c.LastSeq())

	v, err := c.Get(5)
	require.NoError(t, err)
	assert.Equal(t, block.WoodBlockID, v.ID)
	assert.Equal(t, uint8(2), v.Variant)
	require.NotNil(t, v.Meta)
	assert.Equal(t, "p1", v.Meta.Owner)

	out := c.Export()
	assert.Equal(t, data.Cells, out.Cells)
	assert.Len(t, out.Meta, 1)
	assert.Equal(t, 3, c.Stats().PaletteSize)
}

func TestChunkFillRejectsWrongSize(t *testing.T) {
	c := NewChunk(vec.ChunkCoord{}, 4)
	err := c.Fill(NewChunkData(vec.ChunkCoord{}, 8))
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestSwapMeshRequiresCurrentEpoch(t *testing.T) {
	c := NewChunk(vec.ChunkCoord{}, 4)
	stale := &mesh.Mesh{Epoch: c.Epoch()}
	c.Invalidate()

	assert.False(t, c.SwapMesh(stale))
	assert.Nil(t, c.Mesh())

	fresh := &mesh.Mesh{Epoch: c.Epoch()}
	assert.True(t, c.SwapMesh(fresh))
	assert.Same(t, fresh, c.Mesh())
	assert.False(t, c.Dirty())
}

func TestSetLODInvalidatesOnChange(t *testing.T) {
	c := NewChunk(vec.ChunkCoord{}, 4)
	e := c.Epoch()
	c.SetLOD(0)
	assert.Equal(t, e, c.Epoch())
	c.SetLOD(1)
	assert.Greater(t, c.Epoch(), e)
	assert.Equal(t, 1, c.LOD())
}
