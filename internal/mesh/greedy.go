package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Builder extracts surfaces from volumes. It only reads the catalog and is
// safe for concurrent use.
type Builder struct {
	catalog *block.Catalog
}

// NewBuilder creates a builder for the given catalog.
func NewBuilder(catalog *block.Catalog) *Builder {
	if catalog == nil {
		catalog = block.Default()
	}
	return &Builder{catalog: catalog}
}

// faceAxes maps a face to (normal axis, u axis, v axis, positive). The
// (d, u, v) triples are cyclic so u × v points along +d.
var faceAxes = [vec.FaceCount]struct {
	d, u, v  int
	positive bool
}{
	vec.FacePosX: {0, 1, 2, true},
	vec.FaceNegX: {0, 1, 2, false},
	vec.FacePosY: {1, 2, 0, true},
	vec.FaceNegY: {1, 2, 0, false},
	vec.FacePosZ: {2, 0, 1, true},
	vec.FaceNegZ: {2, 0, 1, false},
}

// visible reports whether the face of c toward n is drawn. Faces are hidden
// behind opaque neighbours (unknown neighbours count as opaque) and between
// two cells of the same block, which keeps water and leaves from drawing
// internal faces.
func (b *Builder) visible(c, n Cell) bool {
	if b.catalog.IsOpaque(n.ID()) {
		return false
	}
	return n.ID() != c.ID()
}

// Build meshes the volume at its LOD. The output depends only on the volume
// contents and the catalog.
func (b *Builder) Build(in *Volume) *Mesh {
	v := in
	if in.LOD > 0 {
		v = Downsample(in, in.LOD)
	}
	scale := float32(int(1) << v.LOD)

	m := &Mesh{Coord: in.Coord, Epoch: in.Epoch, LOD: v.LOD}
	n := v.Size
	mask := make([]Cell, n*n)

	for f := vec.Face(0); f < vec.FaceCount; f++ {
		ax := faceAxes[f]
		off := f.Offset()
		offs := [3]int{off.X, off.Y, off.Z}

		for layer := 0; layer < n; layer++ {
			for i := range mask {
				mask[i] = 0
			}

			// Build the visibility mask for this layer. Zero marks "no face";
			// air never produces a face so Cell(0) is free as a sentinel.
			for j := 0; j < n; j++ {
				for i := 0; i < n; i++ {
					var p [3]int
					p[ax.d], p[ax.u], p[ax.v] = layer, i, j
					c := v.At(p[0], p[1], p[2])
					if c.ID() == block.AirBlockID {
						continue
					}
					nb := v.At(p[0]+offs[0], p[1]+offs[1], p[2]+offs[2])
					if b.visible(c, nb) {
						mask[i+j*n] = c
						m.Faces++
					}
				}
			}

			// Greedy merge in fixed (v, u) scan order.
			for j := 0; j < n; j++ {
				for i := 0; i < n; {
					c := mask[i+j*n]
					if c == 0 {
						i++
						continue
					}
					w := 1
					for i+w < n && mask[i+w+j*n] == c {
						w++
					}
					h := 1
				grow:
					for j+h < n {
						for k := 0; k < w; k++ {
							if mask[i+k+(j+h)*n] != c {
								break grow
							}
						}
						h++
					}
					for dj := 0; dj < h; dj++ {
						for di := 0; di < w; di++ {
							mask[i+di+(j+dj)*n] = 0
						}
					}
					b.emit(m, f, layer, i, j, w, h, scale, c)
					i += w
				}
			}
		}
	}

	m.Boxes = b.collision(v, scale)
	return m
}

// emit appends the quad covering [u0, u0+w) × [v0, v0+h) on the given layer.
func (b *Builder) emit(m *Mesh, f vec.Face, layer, u0, v0, w, h int, scale float32, c Cell) {
	ax := faceAxes[f]
	plane := layer
	if ax.positive {
		plane++
	}

	corner := func(du, dv int) mgl32.Vec3 {
		var p [3]float32
		p[ax.d] = float32(plane)
		p[ax.u] = float32(u0 + du)
		p[ax.v] = float32(v0 + dv)
		return mgl32.Vec3{p[0], p[1], p[2]}.Mul(scale)
	}

	corners := [4]mgl32.Vec3{corner(0, 0), corner(w, 0), corner(w, h), corner(0, h)}
	uvs := [4]mgl32.Vec2{{0, 0}, {float32(w), 0}, {float32(w), float32(h)}, {0, float32(h)}}
	if !ax.positive {
		corners[1], corners[3] = corners[3], corners[1]
		uvs[1], uvs[3] = uvs[3], uvs[1]
	}

	off := f.Offset()
	normal := mgl32.Vec3{float32(off.X), float32(off.Y), float32(off.Z)}
	m.addQuad(corners, uvs, normal, b.catalog.Material(c.ID()))
}
