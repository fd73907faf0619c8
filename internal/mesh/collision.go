package mesh

import "github.com/annel0/voxel-world/internal/vec"

// collision merges solid interior voxels into boxes: runs along X first,
// then rows along Y, then slabs along Z.
func (b *Builder) collision(v *Volume, scale float32) []Box {
	n := v.Size
	solid := make([]bool, n*n*n)
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				solid[x+y*n+z*n*n] = b.catalog.IsSolid(v.At(x, y, z).ID())
			}
		}
	}
	at := func(x, y, z int) bool { return solid[x+y*n+z*n*n] }

	s := int(scale)
	var boxes []Box
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				if !at(x, y, z) {
					continue
				}
				w := 1
				for x+w < n && at(x+w, y, z) {
					w++
				}
				h := 1
			rows:
				for y+h < n {
					for i := 0; i < w; i++ {
						if !at(x+i, y+h, z) {
							break rows
						}
					}
					h++
				}
				d := 1
			slabs:
				for z+d < n {
					for j := 0; j < h; j++ {
						for i := 0; i < w; i++ {
							if !at(x+i, y+j, z+d) {
								break slabs
							}
						}
					}
					d++
				}
				for k := 0; k < d; k++ {
					for j := 0; j < h; j++ {
						for i := 0; i < w; i++ {
							solid[x+i+(y+j)*n+(z+k)*n*n] = false
						}
					}
				}
				boxes = append(boxes, Box{
					Min: vec.Vec3{X: x * s, Y: y * s, Z: z * s},
					Max: vec.Vec3{X: (x + w) * s, Y: (y + h) * s, Z: (z + d) * s},
				})
			}
		}
	}
	return boxes
}
