package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

const testSize = 8

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InterestRadius = 1
	cfg.VerticalRadius = 0
	cfg.Reach = 0
	return cfg
}

func loadEmpty(t *testing.T, w *world.World, coords ...vec.ChunkCoord) {
	t.Helper()
	for _, coord := range coords {
		c, _ := w.Acquire(coord)
		require.NoError(t, c.Transition(world.StateGenerating))
		require.NoError(t, w.Install(coord, world.NewChunkData(coord, w.ChunkSize())))
	}
}

type locatorMap map[string]vec.Vec3

func (l locatorMap) Participant(id string) (vec.Vec3, bool) {
	pos, ok := l[id]
	return pos, ok
}

type recordSink struct {
	records []protocol.EditRecord
}

func (s *recordSink) HandleRecord(rec protocol.EditRecord) {
	s.records = append(s.records, rec)
}

type captureSender struct {
	sent []protocol.Message
}

func (c *captureSender) Send(msg protocol.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

// drainTo moves everything queued for p into r.
func drainTo(p *Peer, r *Replica) int {
	n := 0
	for {
		select {
		case msg := <-p.Outbox():
			r.Handle(msg)
			n++
		default:
			return n
		}
	}
}

func emptySnapshot(t *testing.T, coord vec.ChunkCoord, lastSeq uint64) *protocol.ChunkSnapshot {
	t.Helper()
	data := world.NewChunkData(coord, testSize)
	data.LastSeq = lastSeq
	blob, err := world.EncodeChunk(data)
	require.NoError(t, err)
	return &protocol.ChunkSnapshot{Chunk: coord, Version: 1, LastSeq: lastSeq, Blob: blob}
}

func cells(t *testing.T, w *world.World, coord vec.ChunkCoord) []world.Voxel {
	t.Helper()
	data, err := w.Snapshot(coord)
	require.NoError(t, err)
	return data.Cells
}
