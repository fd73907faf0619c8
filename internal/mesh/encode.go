package mesh

import (
	"bytes"
	"encoding/binary"
	"math"
)

var meshMagic = []byte("VXM1")

// Encode serialises the mesh into a flat little-endian buffer for the
// renderer. The payload depends only on the geometry: Epoch is left out,
// so identical chunk contents encode to identical bytes at any epoch.
func (m *Mesh) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(64 + len(m.Positions)*32 + len(m.Indices)*4 + len(m.Boxes)*24)
	buf.Write(meshMagic)

	u32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	i32 := func(v int) { _ = binary.Write(&buf, binary.LittleEndian, int32(v)) }
	f32 := func(v float32) { u32(math.Float32bits(v)) }

	i32(m.Coord.X)
	i32(m.Coord.Y)
	i32(m.Coord.Z)
	i32(m.LOD)
	i32(m.Faces)
	i32(m.Quads)

	u32(uint32(len(m.Positions)))
	for i, p := range m.Positions {
		f32(p[0])
		f32(p[1])
		f32(p[2])
		n := m.Normals[i]
		f32(n[0])
		f32(n[1])
		f32(n[2])
		uv := m.UVs[i]
		f32(uv[0])
		f32(uv[1])
	}
	u32(uint32(len(m.Indices)))
	for _, idx := range m.Indices {
		u32(idx)
	}
	u32(uint32(len(m.Materials)))
	for _, mat := range m.Materials {
		_ = binary.Write(&buf, binary.LittleEndian, mat)
	}
	u32(uint32(len(m.Boxes)))
	for _, b := range m.Boxes {
		i32(b.Min.X)
		i32(b.Min.Y)
		i32(b.Min.Z)
		i32(b.Max.X)
		i32(b.Max.Y)
		i32(b.Max.Z)
	}
	return buf.Bytes()
}
