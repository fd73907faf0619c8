package world

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/vec"
)

// Chunk is an N×N×N cube of voxels. Voxel contents, the version counter and
// the dirty flags are guarded by mu; load state and the mesh slot are atomic so
// readers never block on a rebuild.
type Chunk struct {
	Coord vec.ChunkCoord

	size int

	mu       sync.RWMutex
	cells    *paletteStorage
	meta     map[int]Metadata
	version  uint64 // bumped by every successful Set
	lastSeq  uint64 // last authoritative edit sequence applied
	dirty    bool   // mesh is stale
	modified bool   // contents differ from the last persisted blob

	epoch atomic.Uint64 // bumped on Set and on neighbour invalidation; guards mesh swaps
	state atomic.Int32
	lod   atomic.Int32
	mesh  atomic.Pointer[mesh.Mesh]
}

// ChunkData is a dense, detached copy of a chunk's contents. It is what the
// generator produces, what blobs decode to and what snapshots encode from.
type ChunkData struct {
	Coord   vec.ChunkCoord
	Size    int
	Cells   []Voxel // Meta is always nil here; see Meta
	Meta    map[int]Metadata
	Version uint64
	LastSeq uint64
}

// NewChunkData returns an all-air dense chunk.
func NewChunkData(coord vec.ChunkCoord, size int) *ChunkData {
	return &ChunkData{
		Coord: coord,
		Size:  size,
		Cells: make([]Voxel, size*size*size),
		Meta:  make(map[int]Metadata),
	}
}

// NewChunk creates an all-air chunk in the Unloaded state.
func NewChunk(coord vec.ChunkCoord, size int) *Chunk {
	c := &Chunk{
		Coord: coord,
		size:  size,
		cells: newPaletteStorage(size * size * size),
		meta:  make(map[int]Metadata),
	}
	c.state.Store(int32(StateUnloaded))
	return c
}

// Size returns N.
func (c *Chunk) Size() int { return c.size }

// Volume returns N³.
func (c *Chunk) Volume() int { return c.size * c.size * c.size }

// State returns the current load state.
func (c *Chunk) State() LoadState {
	return LoadState(c.state.Load())
}

// Transition moves the chunk to state to if the state machine allows it.
func (c *Chunk) Transition(to LoadState) error {
	for {
		from := c.State()
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s (chunk %s)", ErrInvalidTransition, from, to, c.Coord)
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

// TransitionFrom moves from → to only if the chunk is currently in from.
func (c *Chunk) TransitionFrom(from, to LoadState) bool {
	if !CanTransition(from, to) {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// LOD returns the level of detail chosen by the chunk manager.
func (c *Chunk) LOD() int { return int(c.lod.Load()) }

// SetLOD records the level of detail; a change invalidates the mesh.
func (c *Chunk) SetLOD(lod int) {
	if int(c.lod.Swap(int32(lod))) != lod {
		c.Invalidate()
	}
}

func (c *Chunk) inBounds(index int) bool {
	return index >= 0 && index < c.Volume()
}

// Get returns the voxel at a local index.
func (c *Chunk) Get(index int) (Voxel, error) {
	if !c.inBounds(index) {
		return Voxel{}, fmt.Errorf("%w: index %d in chunk %s", ErrOutOfBounds, index, c.Coord)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(index), nil
}

func (c *Chunk) getLocked(index int) Voxel {
	v := voxelFromKey(c.cells.get(index))
	if m, ok := c.meta[index]; ok {
		mm := m
		v.Meta = &mm
	}
	return v
}

// setLocked writes v and returns the previous voxel. Callers hold mu.
func (c *Chunk) setLocked(index int, v Voxel) Voxel {
	prev := c.getLocked(index)
	c.cells.set(index, v.key())
	if v.IsAir() || v.Meta == nil {
		delete(c.meta, index)
	} else {
		c.meta[index] = *v.Meta
	}
	c.version++
	c.dirty = true
	c.modified = true
	c.epoch.Add(1)
	return prev
}

// Version returns the edit version counter.
func (c *Chunk) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// LastSeq returns the sequence number of the last authoritative edit.
func (c *Chunk) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// Dirty reports whether the cached mesh is stale.
func (c *Chunk) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// Modified reports whether the contents changed since the last persist.
func (c *Chunk) Modified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modified
}

// MarkPersisted clears the modified flag if no edit happened after version.
func (c *Chunk) MarkPersisted(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version == version {
		c.modified = false
	}
}

// Epoch returns the mesh-validity epoch.
func (c *Chunk) Epoch() uint64 {
	return c.epoch.Load()
}

// Invalidate marks the mesh stale without changing voxel contents. Used when
// a neighbour appears or the LOD changes.
func (c *Chunk) Invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.epoch.Add(1)
	c.mu.Unlock()
}

// Mesh returns the current mesh, or nil before the first build.
func (c *Chunk) Mesh() *mesh.Mesh {
	return c.mesh.Load()
}

// SwapMesh installs m if it was built from the current epoch. The previous
// mesh is replaced as a whole; readers see either the old or the new one.
func (c *Chunk) SwapMesh(m *mesh.Mesh) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Epoch != c.epoch.Load() {
		return false
	}
	c.mesh.Store(m)
	c.dirty = false
	return true
}

// Fill replaces the contents with data. The chunk becomes dirty but not
// modified; any existing mesh stays visible until a rebuild replaces it.
func (c *Chunk) Fill(data *ChunkData) error {
	if data.Size != c.size || len(data.Cells) != c.Volume() {
		return fmt.Errorf("%w: chunk data size %d does not match %d", ErrCorruptBlob, data.Size, c.size)
	}

	cells := newPaletteStorage(c.Volume())
	meta := make(map[int]Metadata, len(data.Meta))
	for i, v := range data.Cells {
		cells.set(i, v.key())
	}
	for i, m := range data.Meta {
		if i >= 0 && i < len(data.Cells) && !data.Cells[i].IsAir() {
			meta[i] = m
		}
	}

	c.mu.Lock()
	c.cells = cells
	c.meta = meta
	c.version = data.Version
	c.lastSeq = data.LastSeq
	c.dirty = true
	c.modified = false
	c.epoch.Add(1)
	c.mu.Unlock()
	return nil
}

// Export returns a dense copy of the contents.
func (c *Chunk) Export() *ChunkData {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data := NewChunkData(c.Coord, c.size)
	for i := range data.Cells {
		data.Cells[i] = voxelFromKey(c.cells.get(i))
	}
	for i, m := range c.meta {
		data.Meta[i] = m
	}
	data.Version = c.version
	data.LastSeq = c.lastSeq
	return data
}

// Stats describes the compacted storage of a chunk.
type Stats struct {
	PaletteSize int
	MemoryBytes int
	MetaEntries int
}

// Stats returns storage statistics.
func (c *Chunk) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		PaletteSize: c.cells.distinct(),
		MemoryBytes: c.cells.memoryBytes(),
		MetaEntries: len(c.meta),
	}
}

// copyInto writes the chunk's cells into vol's interior.
func (c *Chunk) copyInto(vol *mesh.Volume) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.size
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				k := c.cells.get(x + y*n + z*n*n)
				vol.Set(x, y, z, mesh.Cell(k))
			}
		}
	}
}

// copyFaceInto writes the layer of this chunk touching face f of its
// neighbour into vol's padding ring. f is the face of the meshed chunk.
func (c *Chunk) copyFaceInto(vol *mesh.Volume, f vec.Face) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.size
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			var sx, sy, sz, dx, dy, dz int
			switch f {
			case vec.FacePosX:
				sx, sy, sz, dx, dy, dz = 0, a, b, n, a, b
			case vec.FaceNegX:
				sx, sy, sz, dx, dy, dz = n-1, a, b, -1, a, b
			case vec.FacePosY:
				sx, sy, sz, dx, dy, dz = a, 0, b, a, n, b
			case vec.FaceNegY:
				sx, sy, sz, dx, dy, dz = a, n-1, b, a, -1, b
			case vec.FacePosZ:
				sx, sy, sz, dx, dy, dz = a, b, 0, a, b, n
			case vec.FaceNegZ:
				sx, sy, sz, dx, dy, dz = a, b, n-1, a, b, -1
			}
			vol.Set(dx, dy, dz, mesh.Cell(c.cells.get(sx+sy*n+sz*n*n)))
		}
	}
}
