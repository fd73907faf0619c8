package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Message is implemented by every replication message.
type Message interface {
	Type() MsgType
	// AppendTo appends the protobuf encoding of the message body to b.
	AppendTo(b []byte) []byte
	// Unmarshal decodes a body produced by AppendTo. Unknown fields are ignored.
	Unmarshal(b []byte) error
}

// EditRecord is one authoritative voxel change.
type EditRecord struct {
	Chunk      vec.ChunkCoord
	Index      uint32
	OldID      block.BlockID
	NewID      block.BlockID
	Variant    uint8
	Sequence   uint64
	Originator string
	Timestamp  int64 // unix nanoseconds
	OldVariant uint8
}

func (*EditRecord) Type() MsgType { return MsgEditRecord }

func (r *EditRecord) AppendTo(b []byte) []byte {
	b = appendChunk(b, 1, r.Chunk)
	b = appendUint(b, 2, uint64(r.Index))
	b = appendUint(b, 3, uint64(r.OldID))
	b = appendUint(b, 4, uint64(r.NewID))
	b = appendUint(b, 5, uint64(r.Variant))
	b = appendUint(b, 6, r.Sequence)
	b = appendString(b, 7, r.Originator)
	b = appendSint(b, 8, r.Timestamp)
	b = appendUint(b, 9, uint64(r.OldVariant))
	return b
}

func (r *EditRecord) Unmarshal(b []byte) error {
	*r = EditRecord{}
	return scan(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			r.Chunk, err = world.ParseCoord(raw)
		case 2:
			r.Index = uint32(v)
		case 3:
			r.OldID = block.BlockID(v)
		case 4:
			r.NewID = block.BlockID(v)
		case 5:
			r.Variant = uint8(v)
		case 6:
			r.Sequence = v
		case 7:
			r.Originator = string(raw)
		case 8:
			r.Timestamp = protowire.DecodeZigZag(v)
		case 9:
			r.OldVariant = uint8(v)
		}
		return err
	})
}

// Voxel returns the voxel the record writes.
func (r *EditRecord) Voxel() world.Voxel {
	return world.Voxel{ID: r.NewID, Variant: r.Variant}
}

func (r *EditRecord) String() string {
	return fmt.Sprintf("edit{%s #%d %d->%d seq=%d by %q}", r.Chunk, r.Index, r.OldID, r.NewID, r.Sequence, r.Originator)
}

// EditBatch groups records for the event bus.
type EditBatch struct {
	Records []EditRecord
}

func (*EditBatch) Type() MsgType { return MsgEditBatch }

func (m *EditBatch) AppendTo(b []byte) []byte {
	for i := range m.Records {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Records[i].AppendTo(nil))
	}
	return b
}

func (m *EditBatch) Unmarshal(b []byte) error {
	m.Records = nil
	return scan(b, func(num protowire.Number, _ uint64, raw []byte) error {
		if num != 1 {
			return nil
		}
		var r EditRecord
		if err := r.Unmarshal(raw); err != nil {
			return err
		}
		m.Records = append(m.Records, r)
		return nil
	})
}

// EditRequest asks the authority to place or remove a block.
type EditRequest struct {
	Participant string
	Pos         vec.Vec3
	BlockID     block.BlockID
	Variant     uint8
	ClientSeq   uint64
}

func (*EditRequest) Type() MsgType { return MsgEditRequest }

func (m *EditRequest) AppendTo(b []byte) []byte {
	b = appendString(b, 1, m.Participant)
	b = appendPos(b, 2, m.Pos)
	b = appendUint(b, 3, uint64(m.BlockID))
	b = appendUint(b, 4, uint64(m.Variant))
	b = appendUint(b, 5, m.ClientSeq)
	return b
}

func (m *EditRequest) Unmarshal(b []byte) error {
	*m = EditRequest{}
	return scan(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Participant = string(raw)
		case 2:
			m.Pos, err = parsePos(raw)
		case 3:
			m.BlockID = block.BlockID(v)
		case 4:
			m.Variant = uint8(v)
		case 5:
			m.ClientSeq = v
		}
		return err
	})
}

// EditOutcome answers an EditRequest.
type EditOutcome struct {
	ClientSeq uint64
	Applied   bool
	Reason    world.RejectReason
	Sequence  uint64
	Chunk     vec.ChunkCoord
}

func (*EditOutcome) Type() MsgType { return MsgEditOutcome }

func (m *EditOutcome) AppendTo(b []byte) []byte {
	b = appendUint(b, 1, m.ClientSeq)
	b = appendBool(b, 2, m.Applied)
	b = appendUint(b, 3, uint64(m.Reason))
	b = appendUint(b, 4, m.Sequence)
	b = appendChunk(b, 5, m.Chunk)
	return b
}

func (m *EditOutcome) Unmarshal(b []byte) error {
	*m = EditOutcome{}
	return scan(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.ClientSeq = v
		case 2:
			m.Applied = v != 0
		case 3:
			m.Reason = world.RejectReason(v)
		case 4:
			m.Sequence = v
		case 5:
			m.Chunk, err = world.ParseCoord(raw)
		}
		return err
	})
}

// ChunkSnapshot carries a full chunk for bulk sync.
type ChunkSnapshot struct {
	Chunk   vec.ChunkCoord
	Version uint64
	LastSeq uint64
	Blob    []byte // world.EncodeChunk output
}

func (*ChunkSnapshot) Type() MsgType { return MsgChunkSnapshot }

func (m *ChunkSnapshot) AppendTo(b []byte) []byte {
	b = appendChunk(b, 1, m.Chunk)
	b = appendUint(b, 2, m.Version)
	b = appendUint(b, 3, m.LastSeq)
	b = appendBytes(b, 4, m.Blob)
	return b
}

func (m *ChunkSnapshot) Unmarshal(b []byte) error {
	*m = ChunkSnapshot{}
	return scan(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Chunk, err = world.ParseCoord(raw)
		case 2:
			m.Version = v
		case 3:
			m.LastSeq = v
		case 4:
			m.Blob = append([]byte(nil), raw...)
		}
		return err
	})
}

// InterestUpdate moves a participant's interest centre.
type InterestUpdate struct {
	Participant string
	Pos         vec.Vec3
}

func (*InterestUpdate) Type() MsgType { return MsgInterestUpdate }

func (m *InterestUpdate) AppendTo(b []byte) []byte {
	b = appendString(b, 1, m.Participant)
	return appendPos(b, 2, m.Pos)
}

func (m *InterestUpdate) Unmarshal(b []byte) error {
	*m = InterestUpdate{}
	return scan(b, func(num protowire.Number, _ uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Participant = string(raw)
		case 2:
			m.Pos, err = parsePos(raw)
		}
		return err
	})
}

// ResyncRequest asks for a fresh snapshot of one chunk.
type ResyncRequest struct {
	Chunk  vec.ChunkCoord
	Reason string
}

func (*ResyncRequest) Type() MsgType { return MsgResyncRequest }

func (m *ResyncRequest) AppendTo(b []byte) []byte {
	b = appendChunk(b, 1, m.Chunk)
	return appendString(b, 2, m.Reason)
}

func (m *ResyncRequest) Unmarshal(b []byte) error {
	*m = ResyncRequest{}
	return scan(b, func(num protowire.Number, _ uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Chunk, err = world.ParseCoord(raw)
		case 2:
			m.Reason = string(raw)
		}
		return err
	})
}

// Ping and Pong carry a nonce for keepalive and RTT.
type Ping struct{ Nonce uint64 }

func (*Ping) Type() MsgType              { return MsgPing }
func (m *Ping) AppendTo(b []byte) []byte { return appendUint(b, 1, m.Nonce) }
func (m *Ping) Unmarshal(b []byte) error { return unmarshalNonce(b, &m.Nonce) }

type Pong struct{ Nonce uint64 }

func (*Pong) Type() MsgType              { return MsgPong }
func (m *Pong) AppendTo(b []byte) []byte { return appendUint(b, 1, m.Nonce) }
func (m *Pong) Unmarshal(b []byte) error { return unmarshalNonce(b, &m.Nonce) }

func unmarshalNonce(b []byte, nonce *uint64) error {
	*nonce = 0
	return scan(b, func(num protowire.Number, v uint64, _ []byte) error {
		if num == 1 {
			*nonce = v
		}
		return nil
	})
}
