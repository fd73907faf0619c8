package world

import "fmt"

// LoadState is a chunk's lifecycle state.
type LoadState int32

const (
	StateUnloaded LoadState = iota
	StateGenerating
	StateLoaded
	StateMeshing
	StateReady
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateGenerating:
		return "Generating"
	case StateLoaded:
		return "Loaded"
	case StateMeshing:
		return "Meshing"
	case StateReady:
		return "Ready"
	default:
		return fmt.Sprintf("LoadState(%d)", int32(s))
	}
}

// Populated reports whether voxel data is present (Loaded, Meshing or Ready).
func (s LoadState) Populated() bool {
	return s == StateLoaded || s == StateMeshing || s == StateReady
}

// transitions lists the allowed successors of each state. Any state may move
// to Unloaded on eviction.
var transitions = map[LoadState][]LoadState{
	StateUnloaded:   {StateGenerating},
	StateGenerating: {StateLoaded},
	StateLoaded:     {StateMeshing},
	StateMeshing:    {StateReady, StateLoaded},
	StateReady:      {StateMeshing},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to LoadState) bool {
	if to == StateUnloaded {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
