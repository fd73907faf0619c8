package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

func TestEditRecordFieldNumbersAreStable(t *testing.T) {
	r := &EditRecord{
		Chunk:      vec.ChunkCoord{X: -1, Y: 2, Z: 0},
		Index:      300,
		OldID:      block.AirBlockID,
		NewID:      block.StoneBlockID,
		Variant:    4,
		Sequence:   17,
		Originator: "alice",
		Timestamp:  1234,
		OldVariant: 2,
	}

	// Hand-encoded with the published field numbers.
	var want []byte
	want = protowire.AppendTag(want, 1, protowire.BytesType)
	want = protowire.AppendBytes(want, world.AppendCoord(nil, r.Chunk))
	want = protowire.AppendTag(want, 2, protowire.VarintType)
	want = protowire.AppendVarint(want, 300)
	want = protowire.AppendTag(want, 4, protowire.VarintType)
	want = protowire.AppendVarint(want, uint64(block.StoneBlockID))
	want = protowire.AppendTag(want, 5, protowire.VarintType)
	want = protowire.AppendVarint(want, 4)
	want = protowire.AppendTag(want, 6, protowire.VarintType)
	want = protowire.AppendVarint(want, 17)
	want = protowire.AppendTag(want, 7, protowire.BytesType)
	want = protowire.AppendString(want, "alice")
	want = protowire.AppendTag(want, 8, protowire.VarintType)
	want = protowire.AppendVarint(want, protowire.EncodeZigZag(1234))
	want = protowire.AppendTag(want, 9, protowire.VarintType)
	want = protowire.AppendVarint(want, 2)

	assert.Equal(t, want, r.AppendTo(nil))

	var got EditRecord
	require.NoError(t, got.Unmarshal(want))
	assert.Equal(t, *r, got)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	body := (&ResyncRequest{Chunk: vec.ChunkCoord{Z: 3}, Reason: "gap"}).AppendTo(nil)
	body = protowire.AppendTag(body, 99, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, 42)
	body = protowire.AppendTag(body, 100, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("future"))

	var got ResyncRequest
	require.NoError(t, got.Unmarshal(body))
	assert.Equal(t, ResyncRequest{Chunk: vec.ChunkCoord{Z: 3}, Reason: "gap"}, got)
}

func TestFrameRoundTrip(t *testing.T) {
	msgs := []Message{
		&EditRequest{Participant: "p1", Pos: vec.Vec3{X: -5, Y: 7, Z: 130}, BlockID: block.WoodBlockID, Variant: 1, ClientSeq: 9},
		&EditOutcome{ClientSeq: 9, Reason: world.ReasonProtected, Chunk: vec.ChunkCoord{X: -1}},
		&EditOutcome{ClientSeq: 10, Applied: true, Sequence: 44},
		&ChunkSnapshot{Chunk: vec.ChunkCoord{Y: 1}, Version: 3, LastSeq: 2, Blob: []byte("VXC1....")},
		&InterestUpdate{Participant: "p1", Pos: vec.Vec3{X: 1}},
		&EditBatch{Records: []EditRecord{{Sequence: 1, NewID: 2}, {Sequence: 2, OldID: 2}}},
		&Ping{Nonce: 77},
		&Pong{Nonce: 77},
	}
	for _, msg := range msgs {
		t.Run(msg.Type().String(), func(t *testing.T) {
			got, err := Decode(Encode(msg))
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode(Frame{Type: 999, Payload: []byte{1}}.Marshal())
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)

	f := Frame{Type: MsgEditRecord, Payload: []byte{0x0a, 0x05, 0x01}}
	_, err = f.Decode()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCompressedFrameMustBeInflatedFirst(t *testing.T) {
	f := NewFrame(&Ping{Nonce: 1})
	f.Compressed = true
	decoded, err := UnmarshalFrame(f.Marshal())
	require.NoError(t, err)
	assert.True(t, decoded.Compressed)
	_, err = decoded.Decode()
	assert.ErrorIs(t, err, ErrMalformed)
}
