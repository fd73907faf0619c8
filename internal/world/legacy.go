package world

import (
	"fmt"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// legacyStride is the per-voxel size of the old save format: type, health,
// custom data.
const legacyStride = 3

// IsLegacyBlob reports whether b looks like an old fixed-stride save for a
// chunk of the given size.
func IsLegacyBlob(b []byte, size int) bool {
	return !IsChunkBlob(b) && len(b) == size*size*size*legacyStride
}

// DecodeLegacy imports an old fixed-stride save. Unknown type bytes become
// air; health and custom data are kept as metadata for solid voxels.
func DecodeLegacy(coord vec.ChunkCoord, b []byte, size int, catalog *block.Catalog) (*ChunkData, error) {
	if !IsLegacyBlob(b, size) {
		return nil, fmt.Errorf("%w: legacy blob of %d bytes for size %d", ErrCorruptBlob, len(b), size)
	}
	data := NewChunkData(coord, size)
	for i := range data.Cells {
		off := i * legacyStride
		id := block.BlockID(b[off])
		if catalog != nil && !catalog.Valid(id) {
			id = block.AirBlockID
		}
		data.Cells[i] = Voxel{ID: id}
		if id == block.AirBlockID {
			continue
		}
		health, custom := b[off+1], b[off+2]
		if health != 0 || custom != 0 {
			data.Meta[i] = Metadata{Health: health, Custom: custom}
		}
	}
	// Imported contents have never been saved in the current format.
	data.Version = 1
	return data, nil
}
