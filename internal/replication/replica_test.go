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

func sampleRecords() []protocol.EditRecord {
	return []protocol.EditRecord{
		{Index: 0, OldID: block.AirBlockID, NewID: block.StoneBlockID, Sequence: 1},
		{Index: 0, OldID: block.StoneBlockID, NewID: block.DirtBlockID, Sequence: 2},
		{Index: 1, OldID: block.AirBlockID, NewID: block.WoodBlockID, Sequence: 3},
	}
}

func newSyncedReplica(t *testing.T, cfg Config, sender Sender) *Replica {
	t.Helper()
	r := NewReplica(world.NewWorld(1, testSize, nil), cfg, sender, nil)
	r.ReceiveSnapshot(emptySnapshot(t, vec.ChunkCoord{}, 0))
	r.Update()
	return r
}

func TestReplicaReordersRecords(t *testing.T) {
	recs := sampleRecords()

	inOrder := newSyncedReplica(t, testConfig(), nil)
	for _, rec := range recs {
		inOrder.Receive(rec)
	}
	inOrder.Update()

	shuffled := newSyncedReplica(t, testConfig(), nil)
	shuffled.Receive(recs[1])
	shuffled.Receive(recs[0])
	shuffled.Receive(recs[2])
	shuffled.Update()

	assert.Equal(t, cells(t, inOrder.World(), vec.ChunkCoord{}), cells(t, shuffled.World(), vec.ChunkCoord{}))
	v, err := shuffled.World().Get(vec.ChunkCoord{}, 0)
	require.NoError(t, err)
	assert.Equal(t, block.DirtBlockID, v.ID)
	assert.Equal(t, uint64(3), shuffled.Stats().Applied)
}

func TestReplicaBuffersAcrossUpdates(t *testing.T) {
	recs := sampleRecords()
	r := newSyncedReplica(t, testConfig(), nil)

	r.Receive(recs[2])
	r.Receive(recs[1])
	r.Update()
	assert.Zero(t, r.Stats().Applied)
	assert.Equal(t, 2, r.Stats().Buffered)

	r.Receive(recs[0])
	r.Receive(recs[0])
	r.Update()
	s := r.Stats()
	assert.Equal(t, uint64(3), s.Applied)
	assert.Zero(t, s.Buffered)
	assert.Equal(t, uint64(1), s.Duplicates)

	c, _ := r.World().Chunk(vec.ChunkCoord{})
	assert.Equal(t, uint64(3), c.LastSeq())
}

func TestReplicaBuffersRecordsBeforeSnapshot(t *testing.T) {
	r := NewReplica(world.NewWorld(1, testSize, nil), testConfig(), nil, nil)
	recs := sampleRecords()
	r.Receive(recs[1])
	r.Receive(recs[2])
	r.ReceiveSnapshot(emptySnapshot(t, vec.ChunkCoord{}, 1))
	r.Update()

	v, err := r.World().Get(vec.ChunkCoord{}, 1)
	require.NoError(t, err)
	assert.Equal(t, block.WoodBlockID, v.ID)
}

func TestReplicaRequestsResyncOnGap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGapTicks = 2
	sender := &captureSender{}
	r := newSyncedReplica(t, cfg, sender)

	r.Receive(sampleRecords()[2])
	for i := 0; i < 3; i++ {
		r.Update()
	}
	require.Len(t, sender.sent, 1)
	req, ok := sender.sent[0].(*protocol.ResyncRequest)
	require.True(t, ok)
	assert.Equal(t, vec.ChunkCoord{}, req.Chunk)
	assert.True(t, r.Awaiting(vec.ChunkCoord{}))
	assert.Equal(t, uint64(1), r.Stats().Desyncs)

	r.ReceiveSnapshot(emptySnapshot(t, vec.ChunkCoord{}, 3))
	r.Update()
	assert.False(t, r.Awaiting(vec.ChunkCoord{}))
	assert.Zero(t, r.Stats().Buffered)
}

func TestReplicaRequestsResyncOnOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBuffered = 2
	sender := &captureSender{}
	r := newSyncedReplica(t, cfg, sender)

	for seq := uint64(5); seq < 9; seq++ {
		r.Receive(protocol.EditRecord{Index: uint32(seq), NewID: block.StoneBlockID, Sequence: seq})
	}
	r.Update()
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "reorder buffer overflow", sender.sent[0].(*protocol.ResyncRequest).Reason)
}

func TestReplicaIgnoresStaleSnapshot(t *testing.T) {
	r := newSyncedReplica(t, testConfig(), nil)
	for _, rec := range sampleRecords() {
		r.Receive(rec)
	}
	r.Update()

	r.ReceiveSnapshot(emptySnapshot(t, vec.ChunkCoord{}, 1))
	r.Update()
	assert.Equal(t, uint64(1), r.Stats().StaleSnapshots)
	v, _ := r.World().Get(vec.ChunkCoord{}, 0)
	assert.Equal(t, block.DirtBlockID, v.ID)
}

func TestSpeculationConfirmedByAuthority(t *testing.T) {
	r := newSyncedReplica(t, testConfig(), nil)
	pos := vec.Vec3{X: 0}

	_, err := r.ApplySpeculative(pos, world.Block(block.StoneBlockID))
	require.NoError(t, err)
	r.Receive(sampleRecords()[0])
	r.Update()

	assert.Equal(t, uint64(1), r.Stats().Confirmed)
	v, _ := r.World().GetAt(pos)
	assert.Equal(t, block.StoneBlockID, v.ID)
}

func TestSpeculationLosesToAuthority(t *testing.T) {
	r := newSyncedReplica(t, testConfig(), nil)
	_, err := r.ApplySpeculative(vec.Vec3{}, world.Block(block.WoodBlockID))
	require.NoError(t, err)

	r.Receive(sampleRecords()[0])
	r.Update()
	assert.Equal(t, uint64(1), r.Stats().Mispredicted)
	v, _ := r.World().GetAt(vec.Vec3{})
	assert.Equal(t, block.StoneBlockID, v.ID)
}

func TestSpeculationRevertsOnRejectionAndTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SpeculativeTimeoutTicks = 2
	r := newSyncedReplica(t, cfg, nil)

	seq, err := r.ApplySpeculative(vec.Vec3{X: 1}, world.Block(block.StoneBlockID))
	require.NoError(t, err)
	r.ReceiveOutcome(&protocol.EditOutcome{ClientSeq: seq, Reason: world.ReasonProtected})
	r.Update()
	v, _ := r.World().GetAt(vec.Vec3{X: 1})
	assert.True(t, v.IsAir())

	_, err = r.ApplySpeculative(vec.Vec3{X: 2}, world.Block(block.StoneBlockID))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		r.Update()
	}
	v, _ = r.World().GetAt(vec.Vec3{X: 2})
	assert.True(t, v.IsAir())
	assert.Equal(t, uint64(2), r.Stats().Reverted)
}

func TestReplicaConvergesWithAuthority(t *testing.T) {
	ctx := context.Background()
	authWorld := world.NewWorld(3, testSize, nil)
	loadEmpty(t, authWorld, vec.ChunkCoord{}, vec.ChunkCoord{X: 1})

	hub := NewHub(authWorld, nil, testConfig(), nil)
	auth := NewAuthority(authWorld, testConfig(), DefaultRules(authWorld.Catalog(), nil, nil, 0), nil, hub)

	// Edits before the peer joins arrive inside the snapshot.
	require.True(t, auth.RequestEdit(ctx, "alice", vec.Vec3{X: 3, Y: 3, Z: 3}, block.StoneBlockID).Applied)

	peer := hub.Join("bob")
	sender := SenderFunc(func(msg protocol.Message) error {
		if req, ok := msg.(*protocol.ResyncRequest); ok {
			return hub.HandleResync(ctx, peer.ID, req)
		}
		return nil
	})
	replica := NewReplica(world.NewWorld(3, testSize, nil), testConfig(), sender, nil)

	_, err := hub.UpdateInterest(ctx, peer.ID, vec.Vec3{X: 4, Y: 4, Z: 4})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		pos := vec.Vec3{X: i % 16, Y: i % 5, Z: i % 7}
		id := block.WoodBlockID
		if i%3 == 0 {
			id = block.AirBlockID
		}
		auth.RequestEdit(ctx, "alice", pos, id)
	}
	drainTo(peer, replica)
	replica.Update()

	for _, coord := range []vec.ChunkCoord{{}, {X: 1}} {
		assert.Equal(t, cells(t, authWorld, coord), cells(t, replica.World(), coord), "chunk %s", coord)
		ac, _ := authWorld.Chunk(coord)
		rc, _ := replica.World().Chunk(coord)
		assert.Equal(t, ac.LastSeq(), rc.LastSeq())
	}
}
