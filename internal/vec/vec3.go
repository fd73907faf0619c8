package vec

import "fmt"

// Vec3 is an integer voxel position. Z is the vertical axis.
type Vec3 struct {
	X int
	Y int
	Z int
}

// ToVec2 drops the vertical component.
func (v Vec3) ToVec2() Vec2 {
	return Vec2{X: v.X, Y: v.Y}
}

// DistanceTo returns the squared Euclidean distance to another vector.
//
// Parameters:
//
//	other - the position to measure to
//
// Returns:
//
//	float64 - dx*dx + dy*dy + dz*dz; compare against reach*reach
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return float64(dx*dx + dy*dy + dz*dz)
}

// Equals reports whether both vectors are equal.
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}
