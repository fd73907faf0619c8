package network

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-world/internal/protocol"
)

// MaxFrameSize bounds a single frame on the wire, compressed or not.
const MaxFrameSize = 8 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Codec turns messages into protocol frames. Snapshot payloads above the
// threshold are zstd compressed; everything else travels as is.
type Codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	threshold int
}

// NewCodec creates a codec. threshold <= 0 disables compression.
func NewCodec(threshold int) *Codec {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize), zstd.WithDecoderConcurrency(0))
	return &Codec{enc: enc, dec: dec, threshold: threshold}
}

// Encode marshals msg into a frame.
func (c *Codec) Encode(msg protocol.Message) []byte {
	f := protocol.NewFrame(msg)
	if c.threshold > 0 && f.Type == protocol.MsgChunkSnapshot && len(f.Payload) >= c.threshold {
		f.Payload = c.enc.EncodeAll(f.Payload, nil)
		f.Compressed = true
	}
	return f.Marshal()
}

// Decode parses a frame, decompressing its payload when flagged.
func (c *Codec) Decode(b []byte) (protocol.Message, error) {
	f, err := protocol.UnmarshalFrame(b)
	if err != nil {
		return nil, err
	}
	if f.Compressed {
		f.Payload, err = c.dec.DecodeAll(f.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", protocol.ErrMalformed, f.Type, err)
		}
		f.Compressed = false
	}
	return f.Decode()
}

// writeFrame writes a little-endian uint32 length followed by the frame.
func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
