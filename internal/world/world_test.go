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

const testSize = 8

func loadEmpty(t *testing.T, w *World, coord vec.ChunkCoord) *Chunk {
	t.Helper()
	c, _ := w.Acquire(coord)
	require.NoError(t, c.Transition(StateGenerating))
	require.NoError(t, w.Install(coord, NewChunkData(coord, w.ChunkSize())))
	return c
}

func TestWorldGetSetRoundTrip(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{X: -1, Y: 0, Z: 2}
	c := loadEmpty(t, w, coord)

	v := Voxel{ID: block.StoneBlockID, Variant: 3, Meta: &Metadata{Health: 50}}
	prev, err := w.Set(coord, 17, v)
	require.NoError(t, err)
	assert.True(t, prev.IsAir())

	got, err := w.Get(coord, 17)
	require.NoError(t, err)
	assert.True(t, got.SameCell(v))
	require.NotNil(t, got.Meta)
	assert.Equal(t, uint8(50), got.Meta.Health)

	assert.Equal(t, uint64(1), c.Version())
	assert.True(t, c.Dirty())
	assert.True(t, c.Modified())
}

func TestWorldSetOutOfBounds(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	c := loadEmpty(t, w, coord)

	_, err := w.Set(coord, testSize*testSize*testSize, Block(block.StoneBlockID))
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = w.Get(coord, -1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, uint64(0), c.Version())
}

func TestWorldSetOnUnloadedChunkDoesNotMutate(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{X: 3}

	_, err := w.Set(coord, 0, Block(block.StoneBlockID))
	assert.ErrorIs(t, err, ErrChunkNotLoaded)

	c, _ := w.Acquire(coord)
	require.NoError(t, c.Transition(StateGenerating))
	_, err = w.Set(coord, 0, Block(block.StoneBlockID))
	assert.ErrorIs(t, err, ErrChunkNotLoaded)
	assert.Equal(t, uint64(0), c.Version())
	assert.False(t, c.Modified())
}

func TestWorldAirDropsMetadata(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	loadEmpty(t, w, coord)

	_, err := w.Set(coord, 4, Voxel{ID: block.WoodBlockID, Meta: &Metadata{Owner: "a"}})
	require.NoError(t, err)
	prev, err := w.Set(coord, 4, Voxel{Meta: &Metadata{Owner: "b"}})
	require.NoError(t, err)
	require.NotNil(t, prev.Meta)
	assert.Equal(t, "a", prev.Meta.Owner)

	got, err := w.Get(coord, 4)
	require.NoError(t, err)
	assert.True(t, got.IsAir())
	assert.Nil(t, got.Meta)
}

func TestWorldEditAssignsSequence(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	loadEmpty(t, w, coord)

	r1, err := w.Edit(coord, 1, Block(block.StoneBlockID), nil)
	require.NoError(t, err)
	r2, err := w.Edit(coord, 2, Block(block.DirtBlockID), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)

	veto := errors.New("occupied")
	_, err = w.Edit(coord, 1, Block(block.DirtBlockID), func(cur Voxel) error {
		if !cur.IsAir() {
			return veto
		}
		return nil
	})
	assert.ErrorIs(t, err, veto)

	c, _ := w.Chunk(coord)
	assert.Equal(t, uint64(2), c.LastSeq())
	got, _ := w.Get(coord, 1)
	assert.Equal(t, block.StoneBlockID, got.ID)
}

func TestWorldBoundaryWriteInvalidatesNeighbour(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	a := vec.ChunkCoord{}
	b := vec.ChunkCoord{X: 1}
	loadEmpty(t, w, a)
	nb := loadEmpty(t, w, b)

	before := nb.Epoch()
	_, err := w.SetAt(vec.Vec3{X: testSize - 1, Y: 2, Z: 2}, Block(block.StoneBlockID))
	require.NoError(t, err)
	assert.Greater(t, nb.Epoch(), before)

	before = nb.Epoch()
	_, err = w.SetAt(vec.Vec3{X: 3, Y: 2, Z: 2}, Block(block.StoneBlockID))
	require.NoError(t, err)
	assert.Equal(t, before, nb.Epoch())
}

func TestWorldNegativePositions(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	loadEmpty(t, w, vec.ChunkCoord{X: -1, Y: -1, Z: -1})

	_, err := w.SetAt(vec.Vec3{X: -1, Y: -1, Z: -1}, Block(block.GoldBlockID))
	require.NoError(t, err)

	got, err := w.Get(vec.ChunkCoord{X: -1, Y: -1, Z: -1}, testSize*testSize*testSize-1)
	require.NoError(t, err)
	assert.Equal(t, block.GoldBlockID, got.ID)
}

func TestWorldNotifications(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	ch, cancel := w.Subscribe(16)
	defer cancel()

	coord := vec.ChunkCoord{Z: 1}
	loadEmpty(t, w, coord)
	_, err := w.Set(coord, 0, Block(block.StoneBlockID))
	require.NoError(t, err)
	w.Evict(coord)

	var kinds []NotificationKind
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []NotificationKind{NotifyLoaded, NotifyDirty, NotifyEvicted}, kinds)
}

func TestEvictIfVersionKeepsChunkEditedAfterSave(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{X: 3}
	c := loadEmpty(t, w, coord)

	_, err := w.Set(coord, 0, Block(block.StoneBlockID))
	require.NoError(t, err)
	saved := c.Version()
	_, err = w.Set(coord, 1, Block(block.DirtBlockID))
	require.NoError(t, err)

	assert.False(t, w.EvictIfVersion(coord, saved))
	got, ok := w.Chunk(coord)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.True(t, c.State().Populated())

	assert.True(t, w.EvictIfVersion(coord, c.Version()))
	_, ok = w.Chunk(coord)
	assert.False(t, ok)
	assert.Equal(t, StateUnloaded, c.State())

	assert.False(t, w.EvictIfVersion(coord, c.Version()))
	_, err = w.Set(coord, 2, Block(block.StoneBlockID))
	assert.ErrorIs(t, err, ErrChunkNotLoaded)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	_, cancel := w.Subscribe(1)
	defer cancel()

	coord := vec.ChunkCoord{}
	loadEmpty(t, w, coord)
	for i := 0; i < 5; i++ {
		_, err := w.Set(coord, i, Block(block.StoneBlockID))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), w.DroppedNotifications())
}

func TestMeshInputUsesUnknownForMissingNeighbours(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	loadEmpty(t, w, coord)
	loadEmpty(t, w, vec.ChunkCoord{Z: 1})

	vol, err := w.MeshInput(coord)
	require.NoError(t, err)
	assert.Equal(t, block.UnknownBlockID, vol.At(-1, 0, 0).ID())
	assert.Equal(t, block.AirBlockID, vol.At(0, 0, testSize).ID())

	_, err = w.MeshInput(vec.ChunkCoord{X: 9})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestMeshFaceCountsWithLoadedAirNeighbours(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	loadEmpty(t, w, coord)
	for _, n := range coord.Neighbors() {
		loadEmpty(t, w, n)
	}
	builder := mesh.NewBuilder(nil)

	_, err := w.Set(coord, 0, Block(block.GrassBlockID))
	require.NoError(t, err)
	vol, err := w.MeshInput(coord)
	require.NoError(t, err)
	assert.Equal(t, 6, builder.Build(vol).Faces)

	_, err = w.Set(coord, 1, Block(block.GrassBlockID))
	require.NoError(t, err)
	vol, err = w.MeshInput(coord)
	require.NoError(t, err)
	assert.Equal(t, 10, builder.Build(vol).Faces)
}

func TestInstallMeshMovesToReady(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{}
	c := loadEmpty(t, w, coord)
	require.NoError(t, c.Transition(StateMeshing))

	vol, err := w.MeshInput(coord)
	require.NoError(t, err)
	assert.True(t, w.InstallMesh(coord, &mesh.Mesh{Coord: coord, Epoch: vol.Epoch}))
	assert.Equal(t, StateReady, c.State())
}

func TestSaveChunkRoundTrip(t *testing.T) {
	w := NewWorld(1, testSize, nil)
	coord := vec.ChunkCoord{X: 2, Y: -3, Z: 0}
	loadEmpty(t, w, coord)
	_, err := w.Set(coord, 9, Voxel{ID: block.IronBlockID, Meta: &Metadata{Health: 3}})
	require.NoError(t, err)

	blob, err := w.SaveChunk(coord)
	require.NoError(t, err)
	data, err := DecodeChunk(blob)
	require.NoError(t, err)

	assert.Equal(t, coord, data.Coord)
	assert.Equal(t, uint64(1), data.Version)
	assert.Equal(t, block.IronBlockID, data.Cells[9].ID)
	assert.Equal(t, Metadata{Health: 3}, data.Meta[9])
}
