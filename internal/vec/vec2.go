package vec

import "math"

// Vec2 is a horizontal (X/Y) integer position.
type Vec2 struct {
	X, Y int
}

// DistanceTo returns the Euclidean distance to another point.
//
// Parameters:
//
//	other - the point to measure to
//
// Returns:
//
//	float64 - sqrt(dx*dx + dy*dy), never negative
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// DistanceSq returns the squared distance, avoiding the sqrt in hot loops.
// Interest radius checks compare it against r*r.
func (v Vec2) DistanceSq(other Vec2) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return dx*dx + dy*dy
}
