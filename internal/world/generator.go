package world

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// BiomeType selects feature density for a column.
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeForest
	BiomeWater
)

// GeneratorConfig holds the tunable generation parameters.
type GeneratorConfig struct {
	Seed           int64
	HeightScale    float64 // column height range in voxels
	BaseHeight     int     // height added to every column
	NoiseFrequency float64 // world units → noise units
	BiomeFrequency float64
	WaterLevel     int     // columns below this are flooded
	TreeCell       int     // side of the jittered tree grid
	TreeChance     float64 // chance of a tree per plains cell
	OreChance      float64 // chance of ore per stone voxel
}

// DefaultGeneratorConfig returns the parameters used when the world config
// omits them.
func DefaultGeneratorConfig(seed int64) GeneratorConfig {
	return GeneratorConfig{
		Seed:           seed,
		HeightScale:    10,
		BaseHeight:     0,
		NoiseFrequency: 0.01,
		BiomeFrequency: 0.02,
		WaterLevel:     2,
		TreeCell:       8,
		TreeChance:     0.2,
		OreChance:      0.01,
	}
}

// Generator produces chunk contents as a pure function of (seed, coord). It
// owns its noise sources, so several generators with different seeds can run
// side by side, and Generate is safe for concurrent use.
type Generator struct {
	cfg    GeneratorConfig
	height *perlin.Perlin
	biome  *perlin.Perlin
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.TreeCell < 4 {
		cfg.TreeCell = 4
	}
	if cfg.NoiseFrequency <= 0 {
		cfg.NoiseFrequency = 0.01
	}
	if cfg.BiomeFrequency <= 0 {
		cfg.BiomeFrequency = 0.02
	}
	return &Generator{
		cfg:    cfg,
		height: perlin.NewPerlin(2, 2, 3, cfg.Seed),
		biome:  perlin.NewPerlin(2, 2, 3, cfg.Seed+42),
	}
}

// Config returns the generator parameters.
func (g *Generator) Config() GeneratorConfig { return g.cfg }

// noise01 maps perlin output into [0, 1].
func noise01(p *perlin.Perlin, x, y float64) float64 {
	n := (p.Noise2D(x, y) + 1) / 2
	return math.Max(0, math.Min(1, n))
}

// TerrainHeight returns the first air z of column (x, y) before features
// are placed.
func (g *Generator) TerrainHeight(x, y int) int {
	f := g.cfg.NoiseFrequency
	h := noise01(g.height, float64(x)*f, float64(y)*f) * g.cfg.HeightScale
	return g.cfg.BaseHeight + int(math.Ceil(h))
}

// Biome classifies column (x, y).
func (g *Generator) Biome(x, y int) BiomeType {
	if g.TerrainHeight(x, y) < g.cfg.WaterLevel {
		return BiomeWater
	}
	f := g.cfg.BiomeFrequency
	if g.biome.Noise2D(float64(x)*f, float64(y)*f) > 0.3 {
		return BiomeForest
	}
	return BiomePlains
}

// terrainAt is the base layer: stone with ore, dirt, grass, then water up
// to the water level.
func (g *Generator) terrainAt(x, y, z, h int) block.BlockID {
	switch {
	case z < h-3:
		r := unitFloat(hash4(g.cfg.Seed, int64(x), int64(y), int64(z)))
		switch {
		case r < g.cfg.OreChance*0.2:
			return block.GoldBlockID
		case r < g.cfg.OreChance:
			return block.IronBlockID
		}
		return block.StoneBlockID
	case z < h-1:
		return block.DirtBlockID
	case z < h:
		return block.GrassBlockID
	case z < g.cfg.WaterLevel:
		return block.WaterBlockID
	}
	return block.AirBlockID
}

// Generate builds the contents of the chunk at coord.
func (g *Generator) Generate(coord vec.ChunkCoord, size int) *ChunkData {
	data := NewChunkData(coord, size)
	origin := coord.Origin(size)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			wx, wy := origin.X+x, origin.Y+y
			h := g.TerrainHeight(wx, wy)
			for z := 0; z < size; z++ {
				id := g.terrainAt(wx, wy, origin.Z+z, h)
				if id != block.AirBlockID {
					data.Cells[x+y*size+z*size*size] = Voxel{ID: id}
				}
			}
		}
	}

	g.placeFeatures(data, origin)
	return data
}
