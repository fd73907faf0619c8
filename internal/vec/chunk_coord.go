package vec

import "fmt"

// ChunkCoord addresses a chunk in the chunk grid.
type ChunkCoord struct {
	X int
	Y int
	Z int
}

// Face indexes the six face-adjacent directions in a fixed order.
type Face int

const (
	FacePosX Face = iota
	FaceNegX
	FacePosY
	FaceNegY
	FacePosZ
	FaceNegZ
)

// FaceCount is the number of face-adjacent directions.
const FaceCount = 6

var faceOffsets = [FaceCount]Vec3{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// Offset returns the unit step of the face direction.
func (f Face) Offset() Vec3 {
	return faceOffsets[f]
}

// Opposite returns the face pointing the other way.
func (f Face) Opposite() Face {
	return f ^ 1
}

// Add offsets the coordinate by whole chunks on each axis.
func (c ChunkCoord) Add(dx, dy, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Neighbor returns the face-adjacent chunk in direction f.
func (c ChunkCoord) Neighbor(f Face) ChunkCoord {
	o := faceOffsets[f]
	return c.Add(o.X, o.Y, o.Z)
}

// Neighbors returns the six face-adjacent chunks in Face order.
func (c ChunkCoord) Neighbors() [FaceCount]ChunkCoord {
	var out [FaceCount]ChunkCoord
	for f := Face(0); f < FaceCount; f++ {
		out[f] = c.Neighbor(f)
	}
	return out
}

// Origin returns the world position of the chunk's (0,0,0) voxel.
//
// Parameters:
//
//	size - chunk edge length in voxels
//
// Returns:
//
//	Vec3 - the coordinate scaled by size on every axis
func (c ChunkCoord) Origin(size int) Vec3 {
	return Vec3{X: c.X * size, Y: c.Y * size, Z: c.Z * size}
}

// Horizontal returns the X/Y part of the coordinate.
func (c ChunkCoord) Horizontal() Vec2 {
	return Vec2{X: c.X, Y: c.Y}
}

// String formats the coordinate as "x:y:z", the form used in storage keys.
func (c ChunkCoord) String() string {
	return fmt.Sprintf("%d:%d:%d", c.X, c.Y, c.Z)
}

// ParseChunkCoord parses the "x:y:z" form produced by String.
//
// Parameters:
//
//	s - a storage key such as "-1:0:3"
//
// Returns:
//
//	ChunkCoord - the parsed coordinate, zero on error
//	error - the input is not three colon-separated integers
func ParseChunkCoord(s string) (ChunkCoord, error) {
	var c ChunkCoord
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &c.X, &c.Y, &c.Z); err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid chunk coord %q: %w", s, err)
	}
	return c, nil
}

// FloorDiv divides rounding toward negative infinity, so FloorDiv(-1, 16)
// is -1 where Go's / gives 0. b must not be zero.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod returns a modulo b in the range [0, b) for positive b. It pairs
// with FloorDiv: a == FloorDiv(a, b)*b + FloorMod(a, b).
func FloorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// ToChunk splits a world position into its chunk coordinate and local position.
//
// Parameters:
//
//	pos - world position in voxels, negative axes allowed
//	size - chunk edge length in voxels, greater than zero
//
// Returns:
//
//	ChunkCoord - the chunk containing pos
//	Vec3 - the position inside that chunk, each axis in [0, size)
func ToChunk(pos Vec3, size int) (ChunkCoord, Vec3) {
	c := ChunkCoord{X: FloorDiv(pos.X, size), Y: FloorDiv(pos.Y, size), Z: FloorDiv(pos.Z, size)}
	l := Vec3{X: FloorMod(pos.X, size), Y: FloorMod(pos.Y, size), Z: FloorMod(pos.Z, size)}
	return c, l
}

// LocalIndex flattens a local position: X + Y*N + Z*N*N.
//
// Parameters:
//
//	local - position inside the chunk; see InChunk
//	size - chunk edge length N
//
// Returns:
//
//	int - cell index in [0, N*N*N) for in-chunk positions
func LocalIndex(local Vec3, size int) int {
	return local.X + local.Y*size + local.Z*size*size
}

// IndexToLocal is the inverse of LocalIndex for index in [0, size*size*size).
func IndexToLocal(index, size int) Vec3 {
	return Vec3{X: index % size, Y: (index / size) % size, Z: index / (size * size)}
}

// InChunk reports whether a local position lies inside a chunk of the given size.
func InChunk(local Vec3, size int) bool {
	return local.X >= 0 && local.X < size &&
		local.Y >= 0 && local.Y < size &&
		local.Z >= 0 && local.Z < size
}
