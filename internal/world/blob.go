package world

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// blobMagic prefixes every chunk blob produced by EncodeChunk.
var blobMagic = []byte("VXC1")

const maxChunkSize = 256

// maxPaletteKey bounds palette entries: a 16-bit block ID over an 8-bit variant.
const maxPaletteKey = 1 << 24

// Blob body field numbers. Never renumber.
const (
	fieldCoord    protowire.Number = 1
	fieldSize     protowire.Number = 2
	fieldVersion  protowire.Number = 3
	fieldLastSeq  protowire.Number = 4
	fieldPalette  protowire.Number = 5
	fieldRuns     protowire.Number = 6
	fieldMetadata protowire.Number = 7

	fieldCoordX protowire.Number = 1
	fieldCoordY protowire.Number = 2
	fieldCoordZ protowire.Number = 3

	fieldMetaIndex  protowire.Number = 1
	fieldMetaHealth protowire.Number = 2
	fieldMetaCustom protowire.Number = 3
	fieldMetaOwner  protowire.Number = 4
)

// AppendCoord appends a chunk coordinate as an embedded message body.
func AppendCoord(b []byte, c vec.ChunkCoord) []byte {
	b = protowire.AppendTag(b, fieldCoordX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.X)))
	b = protowire.AppendTag(b, fieldCoordY, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Y)))
	b = protowire.AppendTag(b, fieldCoordZ, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Z)))
	return b
}

// ParseCoord decodes a message produced by AppendCoord.
func ParseCoord(b []byte) (vec.ChunkCoord, error) {
	var c vec.ChunkCoord
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		n := int(protowire.DecodeZigZag(v))
		switch num {
		case fieldCoordX:
			c.X = n
		case fieldCoordY:
			c.Y = n
		case fieldCoordZ:
			c.Z = n
		}
		return nil
	})
	return c, err
}

// walkFields iterates the fields of a protobuf message body. Varint and
// fixed fields arrive in v, length-delimited fields in raw. Unknown wire
// types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			v = uint64(v32)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}

// EncodeChunk serialises chunk data: magic, protowire body, CRC32 of the
// body. The palette lists keys in first-appearance order and the cells are
// run-length encoded, so identical contents produce identical bytes.
func EncodeChunk(data *ChunkData) ([]byte, error) {
	volume := data.Size * data.Size * data.Size
	if data.Size <= 0 || data.Size > maxChunkSize || len(data.Cells) != volume {
		return nil, fmt.Errorf("%w: cannot encode %d cells for size %d", ErrOutOfBounds, len(data.Cells), data.Size)
	}

	palette := make(map[uint32]uint64)
	var keys, runs []byte
	var (
		runIdx uint64
		runLen uint64
	)
	for i, v := range data.Cells {
		k := v.key()
		idx, ok := palette[k]
		if !ok {
			idx = uint64(len(palette))
			palette[k] = idx
			keys = protowire.AppendVarint(keys, uint64(k))
		}
		if i > 0 && idx == runIdx {
			runLen++
			continue
		}
		if runLen > 0 {
			runs = protowire.AppendVarint(runs, runIdx)
			runs = protowire.AppendVarint(runs, runLen)
		}
		runIdx, runLen = idx, 1
	}
	runs = protowire.AppendVarint(runs, runIdx)
	runs = protowire.AppendVarint(runs, runLen)

	body := make([]byte, 0, 64+len(keys)+len(runs))
	body = protowire.AppendTag(body, fieldCoord, protowire.BytesType)
	body = protowire.AppendBytes(body, AppendCoord(nil, data.Coord))
	body = protowire.AppendTag(body, fieldSize, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(data.Size))
	body = protowire.AppendTag(body, fieldVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, data.Version)
	body = protowire.AppendTag(body, fieldLastSeq, protowire.VarintType)
	body = protowire.AppendVarint(body, data.LastSeq)
	body = protowire.AppendTag(body, fieldPalette, protowire.BytesType)
	body = protowire.AppendBytes(body, keys)
	body = protowire.AppendTag(body, fieldRuns, protowire.BytesType)
	body = protowire.AppendBytes(body, runs)

	indices := make([]int, 0, len(data.Meta))
	for i := range data.Meta {
		if i >= 0 && i < volume && !data.Cells[i].IsAir() {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	for _, i := range indices {
		m := data.Meta[i]
		var mb []byte
		mb = protowire.AppendTag(mb, fieldMetaIndex, protowire.VarintType)
		mb = protowire.AppendVarint(mb, uint64(i))
		mb = protowire.AppendTag(mb, fieldMetaHealth, protowire.VarintType)
		mb = protowire.AppendVarint(mb, uint64(m.Health))
		mb = protowire.AppendTag(mb, fieldMetaCustom, protowire.VarintType)
		mb = protowire.AppendVarint(mb, uint64(m.Custom))
		if m.Owner != "" {
			mb = protowire.AppendTag(mb, fieldMetaOwner, protowire.BytesType)
			mb = protowire.AppendString(mb, m.Owner)
		}
		body = protowire.AppendTag(body, fieldMetadata, protowire.BytesType)
		body = protowire.AppendBytes(body, mb)
	}

	out := make([]byte, 0, len(blobMagic)+len(body)+4)
	out = append(out, blobMagic...)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return out, nil
}

// IsChunkBlob reports whether b starts with the chunk blob magic.
func IsChunkBlob(b []byte) bool {
	return bytes.HasPrefix(b, blobMagic)
}

// DecodeChunk parses a blob produced by EncodeChunk. Any structural problem
// yields an error wrapping ErrCorruptBlob.
func DecodeChunk(b []byte) (*ChunkData, error) {
	if !IsChunkBlob(b) || len(b) < len(blobMagic)+4 {
		return nil, fmt.Errorf("%w: bad magic or truncated", ErrCorruptBlob)
	}
	body := b[len(blobMagic) : len(b)-4]
	want := binary.LittleEndian.Uint32(b[len(b)-4:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorruptBlob, got, want)
	}

	var (
		data     = &ChunkData{Meta: make(map[int]Metadata)}
		keys     []uint32
		runs     []byte
		metaRaw  [][]byte
		coordErr error
	)
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldCoord:
			data.Coord, coordErr = ParseCoord(raw)
		case fieldSize:
			data.Size = int(v)
		case fieldVersion:
			data.Version = v
		case fieldLastSeq:
			data.LastSeq = v
		case fieldPalette:
			for len(raw) > 0 {
				k, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return protowire.ParseError(n)
				}
				if k >= maxPaletteKey {
					return fmt.Errorf("palette key %#x out of range", k)
				}
				keys = append(keys, uint32(k))
				raw = raw[n:]
			}
		case fieldRuns:
			runs = raw
		case fieldMetadata:
			metaRaw = append(metaRaw, raw)
		}
		return nil
	})
	if err == nil {
		err = coordErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if data.Size <= 0 || data.Size > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d", ErrCorruptBlob, data.Size)
	}

	volume := data.Size * data.Size * data.Size
	data.Cells = make([]Voxel, 0, volume)
	for len(runs) > 0 {
		idx, n := protowire.ConsumeVarint(runs)
		if n < 0 {
			return nil, fmt.Errorf("%w: run index", ErrCorruptBlob)
		}
		runs = runs[n:]
		length, n := protowire.ConsumeVarint(runs)
		if n < 0 {
			return nil, fmt.Errorf("%w: run length", ErrCorruptBlob)
		}
		runs = runs[n:]
		if idx >= uint64(len(keys)) || length == 0 || uint64(len(data.Cells))+length > uint64(volume) {
			return nil, fmt.Errorf("%w: run (%d, %d) out of range", ErrCorruptBlob, idx, length)
		}
		v := voxelFromKey(keys[idx])
		if v.ID == block.UnknownBlockID {
			return nil, fmt.Errorf("%w: reserved block id", ErrCorruptBlob)
		}
		for j := uint64(0); j < length; j++ {
			data.Cells = append(data.Cells, v)
		}
	}
	if len(data.Cells) != volume {
		return nil, fmt.Errorf("%w: %d cells, want %d", ErrCorruptBlob, len(data.Cells), volume)
	}

	for _, raw := range metaRaw {
		var (
			index = -1
			m     Metadata
		)
		err := walkFields(raw, func(num protowire.Number, typ protowire.Type, v uint64, s []byte) error {
			switch num {
			case fieldMetaIndex:
				index = int(v)
			case fieldMetaHealth:
				m.Health = uint8(v)
			case fieldMetaCustom:
				m.Custom = uint8(v)
			case fieldMetaOwner:
				m.Owner = string(s)
			}
			return nil
		})
		if err != nil || index < 0 || index >= volume {
			return nil, fmt.Errorf("%w: metadata entry", ErrCorruptBlob)
		}
		if !data.Cells[index].IsAir() {
			data.Meta[index] = m
		}
	}
	return data, nil
}
