package sync

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-world/internal/protocol"
)

// Compression names carried in envelope metadata.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
)

// DeltaCompressor turns a batch of edit records into an envelope payload
// and back. The body is always the protowire EditBatch; compressors only
// differ in the outer layer.
type DeltaCompressor interface {
	Name() string
	Compress(batch *protocol.EditBatch) ([]byte, error)
	Decompress(payload []byte) (*protocol.EditBatch, error)
}

// NewCompressor returns the compressor registered under name. Empty means zstd.
func NewCompressor(name string) (DeltaCompressor, error) {
	switch name {
	case "", CompressionZstd:
		return NewZstdCompressor(), nil
	case CompressionGzip:
		return NewGzipCompressor(), nil
	case CompressionNone:
		return NewPassthroughCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

func decodeBatch(raw []byte) (*protocol.EditBatch, error) {
	var batch protocol.EditBatch
	if err := batch.Unmarshal(raw); err != nil {
		return nil, err
	}
	return &batch, nil
}

type passthroughCompressor struct{}

func NewPassthroughCompressor() DeltaCompressor { return passthroughCompressor{} }

func (passthroughCompressor) Name() string { return CompressionNone }

func (passthroughCompressor) Compress(batch *protocol.EditBatch) ([]byte, error) {
	return batch.AppendTo(nil), nil
}

func (passthroughCompressor) Decompress(payload []byte) (*protocol.EditBatch, error) {
	return decodeBatch(payload)
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor uses stateless EncodeAll/DecodeAll, so one instance is
// safe for concurrent use.
func NewZstdCompressor() DeltaCompressor {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	return &zstdCompressor{enc: enc, dec: dec}
}

func (z *zstdCompressor) Name() string { return CompressionZstd }

func (z *zstdCompressor) Compress(batch *protocol.EditBatch) ([]byte, error) {
	return z.enc.EncodeAll(batch.AppendTo(nil), nil), nil
}

func (z *zstdCompressor) Decompress(payload []byte) (*protocol.EditBatch, error) {
	raw, err := z.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return decodeBatch(raw)
}

type gzipCompressor struct{}

func NewGzipCompressor() DeltaCompressor { return gzipCompressor{} }

func (gzipCompressor) Name() string { return CompressionGzip }

func (gzipCompressor) Compress(batch *protocol.EditBatch) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(batch.AppendTo(nil)); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(payload []byte) (*protocol.EditBatch, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return decodeBatch(raw)
}
