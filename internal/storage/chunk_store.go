package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// ErrNotFound is returned when no usable data exists for a chunk.
var ErrNotFound = world.ErrNotFound

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("storage closed")

// QuarantineEntry is a corrupt blob kept for diagnostics.
type QuarantineEntry struct {
	Coord  vec.ChunkCoord `json:"coord"`
	At     time.Time      `json:"at"`
	Reason string         `json:"reason"`
	Data   []byte         `json:"data"`
}

// ChunkStore persists chunk blobs. Implementations verify stored data on
// load; a record that fails verification is moved to quarantine and the
// load reports ErrNotFound, so the caller regenerates the chunk.
type ChunkStore interface {
	SaveChunk(ctx context.Context, coord vec.ChunkCoord, blob []byte) error
	LoadChunk(ctx context.Context, coord vec.ChunkCoord) ([]byte, error)
	Quarantine(ctx context.Context, coord vec.ChunkCoord, data []byte, reason string) error
	Quarantined(ctx context.Context) ([]QuarantineEntry, error)
	Close() error
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// seal wraps a blob for storage: CRC32 of the compressed payload followed by
// the zstd-compressed blob.
func seal(blob []byte) []byte {
	payload := zstdEncoder.EncodeAll(blob, nil)
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(out, crc32.ChecksumIEEE(payload))
	return append(out, payload...)
}

// unseal reverses seal.
func unseal(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: record of %d bytes", world.ErrCorruptBlob, len(raw))
	}
	payload := raw[4:]
	if want, got := binary.BigEndian.Uint32(raw), crc32.ChecksumIEEE(payload); want != got {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", world.ErrCorruptBlob, got, want)
	}
	blob, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", world.ErrCorruptBlob, err)
	}
	return blob, nil
}

// openOrQuarantine unseals raw; on failure it quarantines raw through q and
// returns an error matching both ErrNotFound and world.ErrCorruptBlob.
func openOrQuarantine(ctx context.Context, q ChunkStore, coord vec.ChunkCoord, raw []byte) ([]byte, error) {
	blob, err := unseal(raw)
	if err == nil {
		return blob, nil
	}
	if qerr := q.Quarantine(ctx, coord, raw, err.Error()); qerr != nil {
		return nil, fmt.Errorf("quarantine chunk %s: %w", coord, qerr)
	}
	return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
}

func chunkKey(coord vec.ChunkCoord) []byte {
	return []byte("chunk:" + coord.String())
}

func quarantineKey(coord vec.ChunkCoord, at time.Time) []byte {
	return []byte(fmt.Sprintf("corrupt:%s:%d", coord, at.UnixNano()))
}

// Corrupter is implemented by stores that can overwrite a live record with
// arbitrary bytes, for exercising the recovery path.
type Corrupter interface {
	Corrupt(ctx context.Context, coord vec.ChunkCoord, raw []byte) error
}
