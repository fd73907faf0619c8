package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-world/internal/vec"
)

// Box is an axis-aligned collision box in chunk-local voxel units. Max is
// exclusive.
type Box struct {
	Min vec.Vec3
	Max vec.Vec3
}

// Mesh is the immutable render and collision output for one chunk. A chunk
// replaces its mesh as a whole and never edits one in place.
type Mesh struct {
	Coord vec.ChunkCoord
	Epoch uint64 // chunk epoch the input was taken at
	LOD   int

	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
	Materials []uint16 // one per triangle

	Faces int // visible unit faces before merging
	Quads int // quads after greedy merging
	Boxes []Box
}

// Triangles returns the triangle count.
func (m *Mesh) Triangles() int {
	return len(m.Indices) / 3
}

// Empty reports whether the chunk produced no geometry.
func (m *Mesh) Empty() bool {
	return len(m.Indices) == 0 && len(m.Boxes) == 0
}

// addQuad appends one quad. corners are in counter-clockwise order seen from
// the side the normal points to.
func (m *Mesh) addQuad(corners [4]mgl32.Vec3, uvs [4]mgl32.Vec2, normal mgl32.Vec3, material uint16) {
	base := uint32(len(m.Positions))
	for i := 0; i < 4; i++ {
		m.Positions = append(m.Positions, corners[i])
		m.Normals = append(m.Normals, normal)
		m.UVs = append(m.UVs, uvs[i])
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	m.Materials = append(m.Materials, material, material)
	m.Quads++
}
