package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// DefaultChunkSize is N when the configuration leaves it unset.
const DefaultChunkSize = 16

// World owns every chunk. There is exactly one authoritative World per
// server; clients keep their own replicas.
type World struct {
	seed    int64
	size    int
	catalog *block.Catalog

	mu     sync.RWMutex
	chunks map[vec.ChunkCoord]*Chunk

	notifier *Notifier
	logger   *logging.Logger
}

// NewWorld creates an empty world.
func NewWorld(seed int64, size int, catalog *block.Catalog) *World {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if catalog == nil {
		catalog = block.Default()
	}
	return &World{
		seed:     seed,
		size:     size,
		catalog:  catalog,
		chunks:   make(map[vec.ChunkCoord]*Chunk),
		notifier: NewNotifier(),
		logger:   logging.GetWorldLogger(),
	}
}

// Seed returns the world seed.
func (w *World) Seed() int64 { return w.seed }

// ChunkSize returns N.
func (w *World) ChunkSize() int { return w.size }

// Catalog returns the block catalog.
func (w *World) Catalog() *block.Catalog { return w.catalog }

// Subscribe registers a read-only consumer of chunk notifications.
func (w *World) Subscribe(buffer int) (<-chan Notification, func()) {
	return w.notifier.Subscribe(buffer)
}

// DroppedNotifications returns the number of notifications lost to slow subscribers.
func (w *World) DroppedNotifications() uint64 {
	return w.notifier.Dropped()
}

// Chunk returns the chunk at coord, in whatever state it is.
func (w *World) Chunk(coord vec.ChunkCoord) (*Chunk, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chunks[coord]
	return c, ok
}

// Coords returns every chunk coordinate currently held, sorted.
func (w *World) Coords() []vec.ChunkCoord {
	w.mu.RLock()
	coords := make([]vec.ChunkCoord, 0, len(w.chunks))
	for coord := range w.chunks {
		coords = append(coords, coord)
	}
	w.mu.RUnlock()

	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return coords
}

// Len returns the number of chunks held.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

// Acquire returns the chunk at coord, creating an Unloaded placeholder when
// absent. created reports whether a placeholder was made.
func (w *World) Acquire(coord vec.ChunkCoord) (c *Chunk, created bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.chunks[coord]; ok {
		return c, false
	}
	c = NewChunk(coord, w.size)
	w.chunks[coord] = c
	return c, true
}

// Install fills a Generating chunk with data and moves it to Loaded.
// Populated neighbours are invalidated because their seams changed.
func (w *World) Install(coord vec.ChunkCoord, data *ChunkData) error {
	c, ok := w.Chunk(coord)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChunkNotLoaded, coord)
	}
	if c.State() != StateGenerating {
		return fmt.Errorf("%w: install into %s chunk %s", ErrInvalidTransition, c.State(), coord)
	}
	if err := c.Fill(data); err != nil {
		return err
	}
	if err := c.Transition(StateLoaded); err != nil {
		return err
	}
	w.invalidateNeighbors(coord)
	w.notifier.Publish(Notification{Kind: NotifyLoaded, Coord: coord, Version: data.Version})
	return nil
}

// Replace overwrites a chunk's contents with an authoritative snapshot,
// creating the chunk if needed. Used by replicas during bulk sync.
func (w *World) Replace(data *ChunkData) error {
	c, created := w.Acquire(data.Coord)
	if created || c.State() == StateUnloaded {
		if err := c.Transition(StateGenerating); err != nil {
			return err
		}
		return w.Install(data.Coord, data)
	}
	if c.State() == StateGenerating {
		return w.Install(data.Coord, data)
	}
	if err := c.Fill(data); err != nil {
		return err
	}
	w.invalidateNeighbors(data.Coord)
	w.notifier.Publish(Notification{Kind: NotifyDirty, Coord: data.Coord, Version: data.Version})
	return nil
}

// Evict removes a chunk from memory. Callers persist modified data first.
func (w *World) Evict(coord vec.ChunkCoord) (*Chunk, bool) {
	w.mu.Lock()
	c, ok := w.chunks[coord]
	if ok {
		delete(w.chunks, coord)
	}
	w.mu.Unlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	_ = c.Transition(StateUnloaded)
	c.mu.Unlock()

	w.evicted(coord)
	return c, true
}

// EvictIfVersion removes a chunk only if its version still equals version,
// the one that was persisted. The check and the switch to Unloaded happen
// under the chunk lock, so a write either lands before and keeps the chunk
// resident or fails afterwards with ErrChunkNotLoaded.
func (w *World) EvictIfVersion(coord vec.ChunkCoord, version uint64) bool {
	w.mu.Lock()
	c, ok := w.chunks[coord]
	if !ok {
		w.mu.Unlock()
		return false
	}
	c.mu.Lock()
	if c.version != version {
		c.mu.Unlock()
		w.mu.Unlock()
		return false
	}
	_ = c.Transition(StateUnloaded)
	c.mu.Unlock()
	delete(w.chunks, coord)
	w.mu.Unlock()

	w.evicted(coord)
	return true
}

func (w *World) evicted(coord vec.ChunkCoord) {
	w.invalidateNeighbors(coord)
	w.notifier.Publish(Notification{Kind: NotifyEvicted, Coord: coord})
}

// Discard drops a placeholder that never received data. Populated chunks are
// left alone; use Evict for those.
func (w *World) Discard(coord vec.ChunkCoord) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chunks[coord]
	if !ok || c.State().Populated() {
		return false
	}
	delete(w.chunks, coord)
	_ = c.Transition(StateUnloaded)
	return true
}

func (w *World) invalidateNeighbors(coord vec.ChunkCoord) {
	for _, n := range coord.Neighbors() {
		if nc, ok := w.Chunk(n); ok && nc.State().Populated() {
			nc.Invalidate()
			w.notifier.Publish(Notification{Kind: NotifyDirty, Coord: n})
		}
	}
}

// Get returns the voxel at a local index.
func (w *World) Get(coord vec.ChunkCoord, index int) (Voxel, error) {
	if index < 0 || index >= w.size*w.size*w.size {
		return Voxel{}, fmt.Errorf("%w: index %d", ErrOutOfBounds, index)
	}
	c, ok := w.Chunk(coord)
	if !ok || !c.State().Populated() {
		return Voxel{}, fmt.Errorf("%w: %s", ErrChunkNotLoaded, coord)
	}
	return c.Get(index)
}

// Set writes a voxel and returns the previous one. Metadata passed with an
// air voxel is discarded.
func (w *World) Set(coord vec.ChunkCoord, index int, v Voxel) (Voxel, error) {
	res, err := w.write(coord, index, v, nil, 0)
	return res.Prev, err
}

// EditResult describes a committed authoritative write.
type EditResult struct {
	Prev    Voxel
	Seq     uint64
	Version uint64
}

// Edit performs an authoritative write. check runs under the chunk lock
// against the current voxel and may veto the write; on success the write and
// the chunk's next replication sequence are committed together.
func (w *World) Edit(coord vec.ChunkCoord, index int, v Voxel, check func(current Voxel) error) (EditResult, error) {
	if check == nil {
		check = func(Voxel) error { return nil }
	}
	return w.write(coord, index, v, check, 0)
}

// ApplyAuthoritative writes a voxel received from the authority and records
// seq as the chunk's last applied sequence.
func (w *World) ApplyAuthoritative(coord vec.ChunkCoord, index int, v Voxel, seq uint64) (Voxel, error) {
	res, err := w.write(coord, index, v, nil, seq)
	return res.Prev, err
}

// write is the single mutation path. seq == 0 with a non-nil check assigns
// the next sequence; seq > 0 records an externally assigned one.
func (w *World) write(coord vec.ChunkCoord, index int, v Voxel, check func(Voxel) error, seq uint64) (EditResult, error) {
	if index < 0 || index >= w.size*w.size*w.size {
		return EditResult{}, fmt.Errorf("%w: index %d", ErrOutOfBounds, index)
	}
	c, ok := w.Chunk(coord)
	if !ok {
		return EditResult{}, fmt.Errorf("%w: %s", ErrChunkNotLoaded, coord)
	}
	if v.IsAir() {
		v.Meta = nil
	}

	c.mu.Lock()
	if !c.State().Populated() {
		c.mu.Unlock()
		return EditResult{}, fmt.Errorf("%w: %s is %s", ErrChunkNotLoaded, coord, c.State())
	}
	if check != nil {
		if err := check(c.getLocked(index)); err != nil {
			c.mu.Unlock()
			return EditResult{}, err
		}
	}
	prev := c.setLocked(index, v)
	switch {
	case seq > 0:
		if seq > c.lastSeq {
			c.lastSeq = seq
		}
	case check != nil:
		c.lastSeq++
	}
	res := EditResult{Prev: prev, Seq: c.lastSeq, Version: c.version}
	c.mu.Unlock()

	w.afterWrite(coord, index)
	w.notifier.Publish(Notification{Kind: NotifyDirty, Coord: coord, Version: res.Version})
	return res, nil
}

// afterWrite invalidates the neighbours whose padding ring contains index.
func (w *World) afterWrite(coord vec.ChunkCoord, index int) {
	local := vec.IndexToLocal(index, w.size)
	last := w.size - 1
	touch := func(f vec.Face) {
		if nc, ok := w.Chunk(coord.Neighbor(f)); ok && nc.State().Populated() {
			nc.Invalidate()
		}
	}
	if local.X == last {
		touch(vec.FacePosX)
	}
	if local.X == 0 {
		touch(vec.FaceNegX)
	}
	if local.Y == last {
		touch(vec.FacePosY)
	}
	if local.Y == 0 {
		touch(vec.FaceNegY)
	}
	if local.Z == last {
		touch(vec.FacePosZ)
	}
	if local.Z == 0 {
		touch(vec.FaceNegZ)
	}
}

// Locate converts a world position to chunk coordinate and local index.
func (w *World) Locate(pos vec.Vec3) (vec.ChunkCoord, int) {
	coord, local := vec.ToChunk(pos, w.size)
	return coord, vec.LocalIndex(local, w.size)
}

// GetAt returns the voxel at a world position.
func (w *World) GetAt(pos vec.Vec3) (Voxel, error) {
	coord, index := w.Locate(pos)
	return w.Get(coord, index)
}

// SetAt writes the voxel at a world position.
func (w *World) SetAt(pos vec.Vec3, v Voxel) (Voxel, error) {
	coord, index := w.Locate(pos)
	return w.Set(coord, index, v)
}

// Snapshot returns a detached copy of a populated chunk.
func (w *World) Snapshot(coord vec.ChunkCoord) (*ChunkData, error) {
	c, ok := w.Chunk(coord)
	if !ok || !c.State().Populated() {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotLoaded, coord)
	}
	return c.Export(), nil
}

// SaveChunk encodes a chunk into a persistence blob.
func (w *World) SaveChunk(coord vec.ChunkCoord) ([]byte, error) {
	data, err := w.Snapshot(coord)
	if err != nil {
		return nil, err
	}
	return EncodeChunk(data)
}

// MeshInput snapshots a chunk and the touching layer of its six neighbours.
// Missing or unpopulated neighbours leave the ring as UnknownBlockID.
func (w *World) MeshInput(coord vec.ChunkCoord) (*mesh.Volume, error) {
	c, ok := w.Chunk(coord)
	if !ok || !c.State().Populated() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, coord)
	}

	// Read the epoch first: any write after this point makes the result stale.
	epoch := c.Epoch()
	vol := mesh.NewVolume(coord, w.size, epoch)
	vol.LOD = c.LOD()
	c.copyInto(vol)
	for f := vec.Face(0); f < vec.FaceCount; f++ {
		if nc, ok := w.Chunk(coord.Neighbor(f)); ok && nc.State().Populated() {
			nc.copyFaceInto(vol, f)
		}
	}
	return vol, nil
}

// InstallMesh swaps in m if it is current and moves the chunk to Ready.
func (w *World) InstallMesh(coord vec.ChunkCoord, m *mesh.Mesh) bool {
	c, ok := w.Chunk(coord)
	if !ok || c.State() != StateMeshing {
		return false
	}
	if !c.SwapMesh(m) {
		return false
	}
	if !c.TransitionFrom(StateMeshing, StateReady) {
		return false
	}
	w.notifier.Publish(Notification{Kind: NotifyReady, Coord: coord, Version: c.Version()})
	return true
}
