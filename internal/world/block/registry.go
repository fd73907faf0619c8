// Package block holds the immutable block catalog shared by storage, meshing
// and the edit rules.
package block

import (
	"fmt"
	"sort"
)

// BlockID identifies a block type. 0 is always air.
type BlockID uint16

// Built-in block IDs.
const (
	AirBlockID    BlockID = iota // 0
	StoneBlockID                 // 1
	DirtBlockID                  // 2
	GrassBlockID                 // 3
	WoodBlockID                  // 4
	IronBlockID                  // 5
	GoldBlockID                  // 6
	CustomBlockID                // 7
	LeavesBlockID                // 8
	WaterBlockID                 // 9

	// UnknownBlockID marks a cell whose chunk is not loaded. Never part of a catalog.
	UnknownBlockID BlockID = 0xFFFF
)

// Definition describes one block type.
type Definition struct {
	ID        BlockID  `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Solid     bool     `yaml:"solid" json:"solid"`   // contributes collision
	Opaque    bool     `yaml:"opaque" json:"opaque"` // hides faces of neighbours
	Material  uint16   `yaml:"material" json:"material"`
	Color     [4]uint8 `yaml:"color" json:"color"`
	MaxHealth uint8    `yaml:"max_health" json:"max_health"`
}

// Catalog is the block catalog. It is built once at startup and never mutated.
type Catalog struct {
	defs  []Definition
	known []bool
}

// NewCatalog validates defs and builds a catalog with O(1) lookup.
func NewCatalog(defs []Definition) (*Catalog, error) {
	maxID := BlockID(0)
	for _, d := range defs {
		if d.ID == UnknownBlockID {
			return nil, fmt.Errorf("block %q uses reserved id %d", d.Name, d.ID)
		}
		if d.ID > maxID {
			maxID = d.ID
		}
	}

	c := &Catalog{
		defs:  make([]Definition, int(maxID)+1),
		known: make([]bool, int(maxID)+1),
	}
	for _, d := range defs {
		if c.known[d.ID] {
			return nil, fmt.Errorf("duplicate block id %d (%s)", d.ID, d.Name)
		}
		if d.ID == AirBlockID && (d.Solid || d.Opaque) {
			return nil, fmt.Errorf("block id 0 must be non-solid, non-opaque air")
		}
		c.defs[d.ID] = d
		c.known[d.ID] = true
	}
	if !c.known[AirBlockID] {
		c.defs[AirBlockID] = Definition{ID: AirBlockID, Name: "Air"}
		c.known[AirBlockID] = true
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(defaultDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultDefinitions() []Definition {
	return []Definition{
		{ID: AirBlockID, Name: "Air"},
		{ID: StoneBlockID, Name: "Stone", Solid: true, Opaque: true, Material: 1, Color: [4]uint8{128, 128, 128, 255}, MaxHealth: 100},
		{ID: DirtBlockID, Name: "Dirt", Solid: true, Opaque: true, Material: 2, Color: [4]uint8{139, 69, 19, 255}, MaxHealth: 60},
		{ID: GrassBlockID, Name: "Grass", Solid: true, Opaque: true, Material: 3, Color: [4]uint8{34, 139, 34, 255}, MaxHealth: 60},
		{ID: WoodBlockID, Name: "Wood", Solid: true, Opaque: true, Material: 4, Color: [4]uint8{160, 82, 45, 255}, MaxHealth: 80},
		{ID: IronBlockID, Name: "Iron", Solid: true, Opaque: true, Material: 5, Color: [4]uint8{192, 192, 192, 255}, MaxHealth: 200},
		{ID: GoldBlockID, Name: "Gold", Solid: true, Opaque: true, Material: 6, Color: [4]uint8{255, 215, 0, 255}, MaxHealth: 150},
		{ID: CustomBlockID, Name: "Custom", Solid: true, Opaque: true, Material: 7, Color: [4]uint8{255, 255, 255, 255}, MaxHealth: 100},
		{ID: LeavesBlockID, Name: "Leaves", Solid: true, Opaque: false, Material: 8, Color: [4]uint8{46, 120, 40, 200}, MaxHealth: 10},
		{ID: WaterBlockID, Name: "Water", Solid: false, Opaque: false, Material: 9, Color: [4]uint8{30, 90, 200, 160}},
	}
}

// Get returns the definition of id.
func (c *Catalog) Get(id BlockID) (Definition, bool) {
	if int(id) >= len(c.defs) || !c.known[id] {
		return Definition{}, false
	}
	return c.defs[id], true
}

// Valid reports whether id is in the catalog.
func (c *Catalog) Valid(id BlockID) bool {
	return int(id) < len(c.known) && c.known[id]
}

// IsSolid reports whether id contributes collision.
func (c *Catalog) IsSolid(id BlockID) bool {
	if int(id) >= len(c.defs) {
		return id == UnknownBlockID
	}
	return c.defs[id].Solid
}

// IsOpaque reports whether id hides the faces of its neighbours.
// UnknownBlockID counts as opaque.
func (c *Catalog) IsOpaque(id BlockID) bool {
	if int(id) >= len(c.defs) {
		return id == UnknownBlockID
	}
	return c.defs[id].Opaque
}

// Material returns the render material index of id.
func (c *Catalog) Material(id BlockID) uint16 {
	if int(id) >= len(c.defs) {
		return 0
	}
	return c.defs[id].Material
}

// Definitions returns all definitions ordered by ID.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for id, ok := range c.known {
		if ok {
			out = append(out, c.defs[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
