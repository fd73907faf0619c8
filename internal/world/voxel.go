package world

import "github.com/annel0/voxel-world/internal/world/block"

// Metadata is the sparse per-voxel side-table entry.
type Metadata struct {
	Health uint8
	Custom uint8
	Owner  string
}

// Voxel is a single grid cell.
type Voxel struct {
	ID      block.BlockID
	Variant uint8     // orientation/variant bits
	Meta    *Metadata // nil when the voxel has no side-table entry
}

// Air is the empty voxel.
var Air = Voxel{}

// IsAir reports whether the voxel is empty.
func (v Voxel) IsAir() bool {
	return v.ID == block.AirBlockID
}

// Block returns a metadata-free voxel of the given type.
func Block(id block.BlockID) Voxel {
	return Voxel{ID: id}
}

// SameCell reports whether two voxels hold the same block and variant.
func (v Voxel) SameCell(o Voxel) bool {
	return v.ID == o.ID && v.Variant == o.Variant
}

func (v Voxel) key() uint32 {
	return uint32(v.ID)<<8 | uint32(v.Variant)
}

func voxelFromKey(k uint32) Voxel {
	return Voxel{ID: block.BlockID(k >> 8), Variant: uint8(k)}
}
