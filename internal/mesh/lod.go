package mesh

import "github.com/annel0/voxel-world/internal/world/block"

// MaxLOD returns the coarsest level that still leaves at least one voxel per
// axis for a chunk of the given size.
func MaxLOD(size int) int {
	lod := 0
	for size > 1 && size%2 == 0 {
		size /= 2
		lod++
	}
	return lod
}

// Downsample reduces v by 2^lod per axis. Every coarse cell takes the most
// frequent non-air cell of its block (lowest value on ties), or air when the
// block is empty. Ring cells are reduced the same way from the source ring.
func Downsample(v *Volume, lod int) *Volume {
	if lod <= 0 {
		return v
	}
	if m := MaxLOD(v.Size); lod > m {
		lod = m
	}
	step := 1 << lod
	size := v.Size / step
	out := NewVolume(v.Coord, size, v.Epoch)
	out.LOD = lod

	counts := make(map[Cell]int, 8)
	// src maps a coarse coordinate to the source range it covers. The ring
	// maps to the single source ring layer.
	src := func(c int) (int, int) {
		switch {
		case c < 0:
			return -1, -1
		case c >= size:
			return v.Size, v.Size
		}
		return c * step, c*step + step - 1
	}

	for z := -1; z <= size; z++ {
		z0, z1 := src(z)
		for y := -1; y <= size; y++ {
			y0, y1 := src(y)
			for x := -1; x <= size; x++ {
				x0, x1 := src(x)
				clear(counts)
				for sz := z0; sz <= z1; sz++ {
					for sy := y0; sy <= y1; sy++ {
						for sx := x0; sx <= x1; sx++ {
							if c := v.At(sx, sy, sz); c.ID() != block.AirBlockID {
								counts[c]++
							}
						}
					}
				}
				out.Set(x, y, z, dominant(counts))
			}
		}
	}
	return out
}

func dominant(counts map[Cell]int) Cell {
	var (
		best  Cell
		bestN int
	)
	for c, n := range counts {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	return best
}
