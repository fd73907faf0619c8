package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

func newAuthority(t *testing.T, cfg Config, territory *Territory, loc Locator) (*Authority, *world.World, *recordSink) {
	t.Helper()
	w := world.NewWorld(1, testSize, nil)
	loadEmpty(t, w, vec.ChunkCoord{})
	sink := &recordSink{}
	a := NewAuthority(w, cfg, DefaultRules(w.Catalog(), territory, loc, cfg.Reach), nil, sink)
	return a, w, sink
}

func TestRequestEditAppliesAndSequences(t *testing.T) {
	a, w, sink := newAuthority(t, testConfig(), nil, nil)
	ctx := context.Background()

	out := a.RequestEdit(ctx, "alice", vec.Vec3{X: 1, Y: 2, Z: 3}, block.StoneBlockID)
	require.True(t, out.Applied)
	assert.Equal(t, uint64(1), out.Sequence)

	out = a.RequestEdit(ctx, "alice", vec.Vec3{X: 1, Y: 2, Z: 3}, block.AirBlockID)
	require.True(t, out.Applied)
	assert.Equal(t, uint64(2), out.Sequence)

	require.Len(t, sink.records, 2)
	first := sink.records[0]
	assert.Equal(t, vec.ChunkCoord{}, first.Chunk)
	assert.Equal(t, uint32(1+2*testSize+3*testSize*testSize), first.Index)
	assert.Equal(t, block.AirBlockID, first.OldID)
	assert.Equal(t, block.StoneBlockID, first.NewID)
	assert.Equal(t, "alice", first.Originator)
	assert.Equal(t, block.StoneBlockID, sink.records[1].OldID)

	c, _ := w.Chunk(vec.ChunkCoord{})
	assert.Equal(t, uint64(2), c.LastSeq())
}

func TestRequestEditOnUnloadedChunk(t *testing.T) {
	a, w, sink := newAuthority(t, testConfig(), nil, nil)
	ctx := context.Background()
	far := vec.Vec3{X: 100, Y: 0, Z: 0}

	out := a.RequestEdit(ctx, "alice", far, block.StoneBlockID)
	assert.False(t, out.Applied)
	assert.Equal(t, world.ReasonChunkNotLoaded, out.Reason)

	// A placeholder still being generated is not loaded either.
	coord, _ := w.Locate(far)
	c, _ := w.Acquire(coord)
	require.NoError(t, c.Transition(world.StateGenerating))
	out = a.RequestEdit(ctx, "alice", far, block.StoneBlockID)
	assert.Equal(t, world.ReasonChunkNotLoaded, out.Reason)

	_, err := w.GetAt(far)
	assert.Error(t, err)
	assert.Empty(t, sink.records)
}

func TestRequestEditAtOutOfBounds(t *testing.T) {
	a, _, _ := newAuthority(t, testConfig(), nil, nil)
	out := a.RequestEditAt(context.Background(), "alice", vec.ChunkCoord{}, testSize*testSize*testSize, world.Block(block.StoneBlockID))
	assert.False(t, out.Applied)
	assert.Equal(t, world.ReasonOutOfBounds, out.Reason)
}

func TestRulesRejectInOrder(t *testing.T) {
	territory := NewTerritory(4)
	cfg := testConfig()
	cfg.Reach = 5
	loc := locatorMap{"alice": {X: 1, Y: 1, Z: 1}, "bob": {X: 1, Y: 1, Z: 1}}
	a, _, _ := newAuthority(t, cfg, territory, loc)
	ctx := context.Background()
	pos := vec.Vec3{X: 1, Y: 1, Z: 2}

	out := a.RequestEdit(ctx, "alice", pos, block.BlockID(200))
	assert.Equal(t, world.ReasonUnknownBlock, out.Reason)

	require.True(t, a.RequestEdit(ctx, "alice", pos, block.StoneBlockID).Applied)

	out = a.RequestEdit(ctx, "alice", pos, block.DirtBlockID)
	assert.Equal(t, world.ReasonOccupied, out.Reason)

	out = a.RequestEdit(ctx, "alice", pos, block.StoneBlockID)
	assert.Equal(t, world.ReasonNoChange, out.Reason)

	require.NoError(t, territory.Claim("alice", pos))
	out = a.RequestEdit(ctx, "bob", pos, block.AirBlockID)
	assert.Equal(t, world.ReasonProtected, out.Reason)

	out = a.RequestEdit(ctx, "bob", vec.Vec3{X: 7, Y: 7, Z: 7}, block.StoneBlockID)
	assert.Equal(t, world.ReasonOutOfReach, out.Reason)

	// Unknown participants have no position to measure from.
	assert.True(t, a.RequestEdit(ctx, "tool", vec.Vec3{X: 7, Y: 7, Z: 7}, block.StoneBlockID).Applied)
}

func TestHandleEchoesClientSeq(t *testing.T) {
	a, _, _ := newAuthority(t, testConfig(), nil, nil)
	out := a.Handle(context.Background(), &protocol.EditRequest{
		Participant: "alice", Pos: vec.Vec3{X: 2}, BlockID: block.WoodBlockID, Variant: 3, ClientSeq: 41,
	})
	assert.True(t, out.Applied)
	assert.Equal(t, uint64(41), out.ClientSeq)
}

func TestUndoRevertsLatestCurrentEdit(t *testing.T) {
	a, w, _ := newAuthority(t, testConfig(), nil, nil)
	ctx := context.Background()
	p1, p2 := vec.Vec3{X: 1}, vec.Vec3{X: 2}

	require.True(t, a.RequestEdit(ctx, "alice", p1, block.StoneBlockID).Applied)
	require.True(t, a.RequestEdit(ctx, "alice", p2, block.WoodBlockID).Applied)
	// bob removes alice's stone, so her first edit is no longer current
	require.True(t, a.RequestEdit(ctx, "bob", p1, block.AirBlockID).Applied)
	require.True(t, a.RequestEdit(ctx, "alice", p1, block.DirtBlockID).Applied)

	out, err := a.Undo(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	v, _ := w.GetAt(p1)
	assert.True(t, v.IsAir())

	out, err = a.Undo(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	v, _ = w.GetAt(p2)
	assert.True(t, v.IsAir())

	_, err = a.Undo(ctx, "alice")
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoRestoresVariantAndMetadata(t *testing.T) {
	a, w, sink := newAuthority(t, testConfig(), nil, nil)
	ctx := context.Background()
	p := vec.Vec3{X: 3, Y: 1}

	original := world.Voxel{ID: block.WoodBlockID, Variant: 3, Meta: &world.Metadata{Health: 40}}
	_, err := w.SetAt(p, original)
	require.NoError(t, err)

	require.True(t, a.RequestEdit(ctx, "alice", p, block.AirBlockID).Applied)
	require.Len(t, sink.records, 1)
	assert.Equal(t, block.WoodBlockID, sink.records[0].OldID)
	assert.Equal(t, uint8(3), sink.records[0].OldVariant)

	out, err := a.Undo(ctx, "alice")
	require.NoError(t, err)
	require.True(t, out.Applied)

	got, err := w.GetAt(p)
	require.NoError(t, err)
	assert.True(t, got.SameCell(original))
	require.NotNil(t, got.Meta)
	assert.Equal(t, uint8(40), got.Meta.Health)
}

func TestAuditRingKeepsNewest(t *testing.T) {
	cfg := testConfig()
	cfg.AuditSize = 2
	a, _, _ := newAuthority(t, cfg, nil, nil)
	ctx := context.Background()

	for x := 0; x < 3; x++ {
		require.True(t, a.RequestEdit(ctx, "alice", vec.Vec3{X: x}, block.StoneBlockID).Applied)
	}
	audit := a.Audit()
	require.Len(t, audit, 2)
	assert.Equal(t, uint64(2), audit[0].Sequence)
	assert.Equal(t, uint64(3), audit[1].Sequence)
}
