package replication

import (
	"sync"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// Territory is a horizontal grid of claimable cells. Unowned cells are free
// to build in; owned cells only accept edits from their owner.
type Territory struct {
	cell int

	mu     sync.RWMutex
	owners map[vec.Vec2]string
}

// NewTerritory creates an empty grid with cells of cellSize blocks.
func NewTerritory(cellSize int) *Territory {
	if cellSize <= 0 {
		cellSize = DefaultConfig().TerritoryCell
	}
	return &Territory{cell: cellSize, owners: make(map[vec.Vec2]string)}
}

// CellOf returns the grid cell containing pos.
func (t *Territory) CellOf(pos vec.Vec3) vec.Vec2 {
	return vec.Vec2{X: vec.FloorDiv(pos.X, t.cell), Y: vec.FloorDiv(pos.Y, t.cell)}
}

// Claim gives the cell at pos to participant. Claiming a cell someone else
// owns is rejected with ReasonProtected; reclaiming your own is a no-op.
func (t *Territory) Claim(participant string, pos vec.Vec3) error {
	cell := t.CellOf(pos)
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner, ok := t.owners[cell]; ok && owner != participant {
		return world.Rejected(world.ReasonProtected)
	}
	t.owners[cell] = participant
	return nil
}

// Release frees the cell at pos if participant owns it.
func (t *Territory) Release(participant string, pos vec.Vec3) bool {
	cell := t.CellOf(pos)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners[cell] != participant {
		return false
	}
	delete(t.owners, cell)
	return true
}

// Owner returns the owner of the cell at pos.
func (t *Territory) Owner(pos vec.Vec3) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owner, ok := t.owners[t.CellOf(pos)]
	return owner, ok
}

// CanBuild reports whether participant may edit at pos.
func (t *Territory) CanBuild(participant string, pos vec.Vec3) bool {
	owner, ok := t.Owner(pos)
	return !ok || owner == participant
}

// Claims returns how many cells are owned.
func (t *Territory) Claims() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owners)
}
