// Package mesh turns chunk voxels into render and collision geometry.
//
// The builder works on a Volume: a detached copy of one chunk plus a one
// voxel ring taken from its six neighbours. It never touches live chunks,
// so meshing runs on worker goroutines while the owner keeps editing.
package mesh

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Cell packs a block id and variant as id<<8 | variant.
type Cell uint32

// MakeCell builds a Cell.
func MakeCell(id block.BlockID, variant uint8) Cell {
	return Cell(uint32(id)<<8 | uint32(variant))
}

// ID returns the block id.
func (c Cell) ID() block.BlockID { return block.BlockID(c >> 8) }

// Variant returns the orientation/variant bits.
func (c Cell) Variant() uint8 { return uint8(c) }

// UnknownCell fills the ring where a neighbour is not loaded.
var UnknownCell = MakeCell(block.UnknownBlockID, 0)

// Volume is a padded voxel snapshot. Interior coordinates run 0..Size-1,
// the ring sits at -1 and Size.
type Volume struct {
	Coord vec.ChunkCoord
	Size  int
	Epoch uint64
	LOD   int

	cells []Cell
}

// NewVolume creates a volume whose cells are all UnknownCell.
func NewVolume(coord vec.ChunkCoord, size int, epoch uint64) *Volume {
	p := size + 2
	cells := make([]Cell, p*p*p)
	for i := range cells {
		cells[i] = UnknownCell
	}
	return &Volume{Coord: coord, Size: size, Epoch: epoch, cells: cells}
}

func (v *Volume) index(x, y, z int) int {
	p := v.Size + 2
	return (x + 1) + (y+1)*p + (z+1)*p*p
}

// At returns the cell at (x, y, z), ring included.
func (v *Volume) At(x, y, z int) Cell {
	return v.cells[v.index(x, y, z)]
}

// Set writes the cell at (x, y, z), ring included.
func (v *Volume) Set(x, y, z int, c Cell) {
	v.cells[v.index(x, y, z)] = c
}
