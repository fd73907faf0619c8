package world

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

func sampleData() *ChunkData {
	data := NewChunkData(vec.ChunkCoord{X: -4, Y: 7, Z: -1}, 8)
	for i := 0; i < 128; i++ {
		data.Cells[i] = Block(block.StoneBlockID)
	}
	data.Cells[200] = Voxel{ID: block.WoodBlockID, Variant: 5}
	data.Meta[200] = Metadata{Health: 9, Custom: 1, Owner: "builder"}
	data.Version = 42
	data.LastSeq = 17
	return data
}

func TestEncodeDecodeChunk(t *testing.T) {
	data := sampleData()
	blob, err := EncodeChunk(data)
	require.NoError(t, err)
	assert.True(t, IsChunkBlob(blob))

	got, err := DecodeChunk(blob)
	require.NoError(t, err)
	assert.Equal(t, data.Coord, got.Coord)
	assert.Equal(t, data.Size, got.Size)
	assert.Equal(t, data.Version, got.Version)
	assert.Equal(t, data.LastSeq, got.LastSeq)
	assert.Equal(t, data.Cells, got.Cells)
	assert.Equal(t, data.Meta, got.Meta)
}

func TestEncodeChunkIsDeterministic(t *testing.T) {
	a, err := EncodeChunk(sampleData())
	require.NoError(t, err)
	b, err := EncodeChunk(sampleData())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeChunkDetectsCorruption(t *testing.T) {
	blob, err := EncodeChunk(sampleData())
	require.NoError(t, err)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)/2] ^= 0xFF
	_, err = DecodeChunk(flipped)
	assert.ErrorIs(t, err, ErrCorruptBlob)

	_, err = DecodeChunk(blob[:6])
	assert.ErrorIs(t, err, ErrCorruptBlob)

	_, err = DecodeChunk([]byte("not a chunk at all"))
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecodeChunkRejectsOversizedPaletteKey(t *testing.T) {
	// 1<<32 | stone would alias to stone if narrowed to 32 bits.
	key := uint64(1)<<32 | uint64(Block(block.StoneBlockID).key())

	var body []byte
	body = protowire.AppendTag(body, fieldCoord, protowire.BytesType)
	body = protowire.AppendBytes(body, AppendCoord(nil, vec.ChunkCoord{}))
	body = protowire.AppendTag(body, fieldSize, protowire.VarintType)
	body = protowire.AppendVarint(body, 2)
	body = protowire.AppendTag(body, fieldPalette, protowire.BytesType)
	body = protowire.AppendBytes(body, protowire.AppendVarint(nil, key))
	var runs []byte
	runs = protowire.AppendVarint(runs, 0)
	runs = protowire.AppendVarint(runs, 8)
	body = protowire.AppendTag(body, fieldRuns, protowire.BytesType)
	body = protowire.AppendBytes(body, runs)

	blob := append(append([]byte(nil), blobMagic...), body...)
	blob = binary.LittleEndian.AppendUint32(blob, crc32.ChecksumIEEE(body))

	_, err := DecodeChunk(blob)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecodeLegacy(t *testing.T) {
	const size = 4
	raw := make([]byte, size*size*size*legacyStride)
	raw[0], raw[1], raw[2] = byte(block.StoneBlockID), 80, 0
	raw[3], raw[4], raw[5] = byte(block.GoldBlockID), 0, 0
	raw[6], raw[7], raw[8] = 200, 1, 1 // unknown type
	raw[9], raw[10], raw[11] = 0, 5, 5 // air with stray data

	require.True(t, IsLegacyBlob(raw, size))
	data, err := DecodeLegacy(vec.ChunkCoord{}, raw, size, block.Default())
	require.NoError(t, err)

	assert.Equal(t, block.StoneBlockID, data.Cells[0].ID)
	assert.Equal(t, Metadata{Health: 80}, data.Meta[0])
	assert.Equal(t, block.GoldBlockID, data.Cells[1].ID)
	assert.NotContains(t, data.Meta, 1)
	assert.True(t, data.Cells[2].IsAir())
	assert.True(t, data.Cells[3].IsAir())
	assert.Len(t, data.Meta, 1)

	_, err = DecodeLegacy(vec.ChunkCoord{}, raw[:10], size, nil)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}
