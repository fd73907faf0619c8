package world

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// tree is a structure anchored on the jittered grid. Its shape depends only
// on the seed and the grid cell, never on which chunk is being generated.
type tree struct {
	anchor vec.Vec3 // trunk base, the first air voxel of the anchor column
	trunk  int
	radius int
}

func (t tree) top() int { return t.anchor.Z + t.trunk - 1 }

func (t tree) bounds() (lo, hi vec.Vec3) {
	r := t.radius
	return vec.Vec3{X: t.anchor.X - r, Y: t.anchor.Y - r, Z: t.anchor.Z},
		vec.Vec3{X: t.anchor.X + r, Y: t.anchor.Y + r, Z: t.top() + r}
}

func (t tree) inCanopy(p vec.Vec3) bool {
	d := p.Sub(vec.Vec3{X: t.anchor.X, Y: t.anchor.Y, Z: t.top()})
	if d.Z < -1 {
		return false
	}
	return d.X*d.X+d.Y*d.Y+d.Z*d.Z <= t.radius*t.radius+1
}

func (t tree) inTrunk(p vec.Vec3) bool {
	return p.X == t.anchor.X && p.Y == t.anchor.Y && p.Z >= t.anchor.Z && p.Z <= t.top()
}

// treeAt returns the tree of grid cell (cx, cy), if the cell has one.
func (g *Generator) treeAt(cx, cy int) (tree, bool) {
	cell := g.cfg.TreeCell
	h := hash4(g.cfg.Seed, int64(cx), int64(cy), 0x7ee5)

	ax := cx*cell + 1 + int(h>>8%uint64(cell-2))
	ay := cy*cell + 1 + int(h>>24%uint64(cell-2))

	chance := g.cfg.TreeChance
	switch g.Biome(ax, ay) {
	case BiomeWater:
		return tree{}, false
	case BiomeForest:
		chance *= 3
	}
	if unitFloat(h) >= chance {
		return tree{}, false
	}

	base := g.TerrainHeight(ax, ay)
	if base < g.cfg.WaterLevel {
		return tree{}, false
	}
	return tree{
		anchor: vec.Vec3{X: ax, Y: ay, Z: base},
		trunk:  4 + int(h>>40%3),
		radius: 2,
	}, true
}

// placeFeatures is the second generation pass. Every tree whose bounding
// box overlaps the chunk is rasterised into it; canopies only fill air and
// trunks replace air or leaves, so the result does not depend on the order
// chunks or trees are visited.
func (g *Generator) placeFeatures(data *ChunkData, origin vec.Vec3) {
	size := data.Size
	cell := g.cfg.TreeCell
	const reach = 2

	var trees []tree
	for cy := vec.FloorDiv(origin.Y-reach, cell); cy <= vec.FloorDiv(origin.Y+size-1+reach, cell); cy++ {
		for cx := vec.FloorDiv(origin.X-reach, cell); cx <= vec.FloorDiv(origin.X+size-1+reach, cell); cx++ {
			t, ok := g.treeAt(cx, cy)
			if !ok {
				continue
			}
			lo, hi := t.bounds()
			if hi.X < origin.X || lo.X >= origin.X+size ||
				hi.Y < origin.Y || lo.Y >= origin.Y+size ||
				hi.Z < origin.Z || lo.Z >= origin.Z+size {
				continue
			}
			trees = append(trees, t)
		}
	}
	if len(trees) == 0 {
		return
	}

	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				i := x + y*size + z*size*size
				cur := data.Cells[i].ID
				if cur != block.AirBlockID {
					continue
				}
				p := vec.Vec3{X: origin.X + x, Y: origin.Y + y, Z: origin.Z + z}
				var trunk, leaves bool
				for _, t := range trees {
					if t.inTrunk(p) {
						trunk = true
						break
					}
					if t.inCanopy(p) {
						leaves = true
					}
				}
				switch {
				case trunk:
					data.Cells[i] = Voxel{ID: block.WoodBlockID}
				case leaves:
					data.Cells[i] = Voxel{ID: block.LeavesBlockID}
				}
			}
		}
	}
}

// hash4 mixes the seed and three coordinates with splitmix64 finalisers.
func hash4(seed, a, b, c int64) uint64 {
	h := splitmix(uint64(seed))
	h = splitmix(h ^ uint64(a))
	h = splitmix(h ^ uint64(b))
	return splitmix(h ^ uint64(c))
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// unitFloat maps h to [0, 1).
func unitFloat(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}
