// Package protocol is the replication wire format. Every message is a
// protobuf-compatible body with field numbers that never change; a Frame
// wraps one message together with its type.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MsgType identifies the message carried by a frame.
type MsgType int32

// Never renumber.
const (
	MsgUnknown MsgType = 0
	MsgPing    MsgType = 1
	MsgPong    MsgType = 2

	// Edits
	MsgEditRequest MsgType = 10
	MsgEditOutcome MsgType = 11
	MsgEditRecord  MsgType = 12
	MsgEditBatch   MsgType = 13

	// Chunks and interest
	MsgChunkSnapshot  MsgType = 20
	MsgInterestUpdate MsgType = 21
	MsgResyncRequest  MsgType = 22
)

func (t MsgType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgEditRequest:
		return "edit_request"
	case MsgEditOutcome:
		return "edit_outcome"
	case MsgEditRecord:
		return "edit_record"
	case MsgEditBatch:
		return "edit_batch"
	case MsgChunkSnapshot:
		return "chunk_snapshot"
	case MsgInterestUpdate:
		return "interest_update"
	case MsgResyncRequest:
		return "resync_request"
	}
	return fmt.Sprintf("msg(%d)", int32(t))
}

var (
	// ErrUnknownMessage is returned for frames whose type this build does not know.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrMalformed is returned for frames that do not parse.
	ErrMalformed = errors.New("malformed frame")
)

// Frame is the envelope on the wire. Compressed means Payload is zstd
// compressed; transports set it for large snapshots.
type Frame struct {
	Type       MsgType
	Payload    []byte
	Compressed bool
}

const (
	fieldFrameType       protowire.Number = 1
	fieldFramePayload    protowire.Number = 2
	fieldFrameCompressed protowire.Number = 3
)

// NewFrame wraps msg.
func NewFrame(msg Message) Frame {
	return Frame{Type: msg.Type(), Payload: msg.AppendTo(nil)}
}

// Marshal encodes the frame.
func (f Frame) Marshal() []byte {
	b := make([]byte, 0, len(f.Payload)+8)
	b = appendUint(b, fieldFrameType, uint64(f.Type))
	b = appendBytes(b, fieldFramePayload, f.Payload)
	b = appendBool(b, fieldFrameCompressed, f.Compressed)
	return b
}

// UnmarshalFrame decodes a frame produced by Marshal.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	err := scan(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldFrameType:
			f.Type = MsgType(v)
		case fieldFramePayload:
			f.Payload = raw
		case fieldFrameCompressed:
			f.Compressed = v != 0
		}
		return nil
	})
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

// New returns an empty message of type t.
func New(t MsgType) (Message, error) {
	switch t {
	case MsgPing:
		return &Ping{}, nil
	case MsgPong:
		return &Pong{}, nil
	case MsgEditRequest:
		return &EditRequest{}, nil
	case MsgEditOutcome:
		return &EditOutcome{}, nil
	case MsgEditRecord:
		return &EditRecord{}, nil
	case MsgEditBatch:
		return &EditBatch{}, nil
	case MsgChunkSnapshot:
		return &ChunkSnapshot{}, nil
	case MsgInterestUpdate:
		return &InterestUpdate{}, nil
	case MsgResyncRequest:
		return &ResyncRequest{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, int32(t))
}

// Decode unmarshals an uncompressed frame's payload.
func (f Frame) Decode() (Message, error) {
	if f.Compressed {
		return nil, fmt.Errorf("%w: payload still compressed", ErrMalformed)
	}
	msg, err := New(f.Type)
	if err != nil {
		return nil, err
	}
	if err := msg.Unmarshal(f.Payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
	}
	return msg, nil
}

// Encode is shorthand for NewFrame(msg).Marshal().
func Encode(msg Message) []byte {
	return NewFrame(msg).Marshal()
}

// Decode parses a marshalled frame and its message.
func Decode(b []byte) (Message, error) {
	f, err := UnmarshalFrame(b)
	if err != nil {
		return nil, err
	}
	return f.Decode()
}
