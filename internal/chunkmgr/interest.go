package chunkmgr

import (
	"math"
	"sort"

	"github.com/annel0/voxel-world/internal/vec"
)

// interestSet is the union of every participant's interest cylinder.
type interestSet struct {
	centers []vec.ChunkCoord
	r, v, h int
}

func newInterestSet(positions map[string]vec.Vec3, size int, cfg Config) interestSet {
	s := interestSet{r: cfg.InterestRadius, v: cfg.VerticalRadius, h: cfg.Hysteresis}
	for _, pos := range positions {
		c, _ := vec.ToChunk(pos, size)
		s.centers = append(s.centers, c)
	}
	sort.Slice(s.centers, func(i, j int) bool { return s.centers[i].String() < s.centers[j].String() })
	return s
}

func within(center, c vec.ChunkCoord, r, v int) bool {
	dx, dy, dz := c.X-center.X, c.Y-center.Y, c.Z-center.Z
	if dz < -v || dz > v {
		return false
	}
	return dx*dx+dy*dy <= r*r
}

// wants reports whether c lies inside some participant's load radius.
func (s interestSet) wants(c vec.ChunkCoord) bool {
	for _, center := range s.centers {
		if within(center, c, s.r, s.v) {
			return true
		}
	}
	return false
}

// retains reports whether c lies inside some participant's unload radius.
func (s interestSet) retains(c vec.ChunkCoord) bool {
	for _, center := range s.centers {
		if within(center, c, s.r+s.h, s.v+s.h) {
			return true
		}
	}
	return false
}

// desired lists every wanted chunk, closest to a participant first.
func (s interestSet) desired() []vec.ChunkCoord {
	seen := make(map[vec.ChunkCoord]struct{})
	var out []vec.ChunkCoord
	for _, center := range s.centers {
		for dz := -s.v; dz <= s.v; dz++ {
			for dy := -s.r; dy <= s.r; dy++ {
				for dx := -s.r; dx <= s.r; dx++ {
					if dx*dx+dy*dy > s.r*s.r {
						continue
					}
					c := center.Add(dx, dy, dz)
					if _, ok := seen[c]; ok {
						continue
					}
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
	}

	dist := make(map[vec.ChunkCoord]float64, len(out))
	for _, c := range out {
		dist[c] = s.distance(c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if dist[out[i]] != dist[out[j]] {
			return dist[out[i]] < dist[out[j]]
		}
		return out[i].String() < out[j].String()
	})
	return out
}

// distance is the horizontal distance in chunks to the nearest participant.
func (s interestSet) distance(c vec.ChunkCoord) float64 {
	best := math.Inf(1)
	for _, center := range s.centers {
		dx, dy := float64(c.X-center.X), float64(c.Y-center.Y)
		if d := math.Sqrt(dx*dx + dy*dy); d < best {
			best = d
		}
	}
	return best
}

// lod maps the distance of c onto bands.
func (s interestSet) lod(c vec.ChunkCoord, bands []int, maxLOD int) int {
	d := s.distance(c)
	lod := len(bands)
	for i, b := range bands {
		if d <= float64(b) {
			lod = i
			break
		}
	}
	if lod > maxLOD {
		lod = maxLOD
	}
	return lod
}
