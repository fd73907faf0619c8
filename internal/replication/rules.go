package replication

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// EditContext describes an edit under validation.
type EditContext struct {
	Participant string
	Pos         vec.Vec3
	Chunk       vec.ChunkCoord
	Index       int
	Voxel       world.Voxel
}

// Rule vetoes an edit by returning an *world.EditRejectedError. Rules run
// under the chunk lock against the current voxel, so they must not touch
// the World.
type Rule interface {
	Check(ec EditContext, current world.Voxel) error
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(ec EditContext, current world.Voxel) error

func (f RuleFunc) Check(ec EditContext, current world.Voxel) error { return f(ec, current) }

// Locator reports the last known position of a participant.
type Locator interface {
	Participant(id string) (vec.Vec3, bool)
}

// CatalogRule rejects block IDs the catalog does not define.
func CatalogRule(catalog *block.Catalog) Rule {
	return RuleFunc(func(ec EditContext, _ world.Voxel) error {
		if !catalog.Valid(ec.Voxel.ID) {
			return world.Rejected(world.ReasonUnknownBlock)
		}
		return nil
	})
}

// OccupiedRule rejects placing a block into a non-air cell. Removal (placing
// air) is always allowed.
func OccupiedRule() Rule {
	return RuleFunc(func(ec EditContext, current world.Voxel) error {
		if !ec.Voxel.IsAir() && !current.IsAir() && !current.SameCell(ec.Voxel) {
			return world.Rejected(world.ReasonOccupied)
		}
		return nil
	})
}

// NoChangeRule rejects edits that would not change the cell.
func NoChangeRule() Rule {
	return RuleFunc(func(ec EditContext, current world.Voxel) error {
		if current.SameCell(ec.Voxel) {
			return world.Rejected(world.ReasonNoChange)
		}
		return nil
	})
}

// TerritoryRule rejects edits in cells owned by someone else.
func TerritoryRule(t *Territory) Rule {
	return RuleFunc(func(ec EditContext, _ world.Voxel) error {
		if !t.CanBuild(ec.Participant, ec.Pos) {
			return world.Rejected(world.ReasonProtected)
		}
		return nil
	})
}

// ReachRule rejects edits farther than reach blocks from the participant's
// last known position. Participants without a known position pass.
func ReachRule(locator Locator, reach float64) Rule {
	limit := reach * reach
	return RuleFunc(func(ec EditContext, _ world.Voxel) error {
		if reach <= 0 || locator == nil {
			return nil
		}
		pos, ok := locator.Participant(ec.Participant)
		if !ok {
			return nil
		}
		if pos.DistanceTo(ec.Pos) > limit {
			return world.Rejected(world.ReasonOutOfReach)
		}
		return nil
	})
}

// DefaultRules returns the standard rule chain in evaluation order.
func DefaultRules(catalog *block.Catalog, territory *Territory, locator Locator, reach float64) []Rule {
	rules := []Rule{CatalogRule(catalog), OccupiedRule(), NoChangeRule()}
	if territory != nil {
		rules = append(rules, TerritoryRule(territory))
	}
	return append(rules, ReachRule(locator, reach))
}
