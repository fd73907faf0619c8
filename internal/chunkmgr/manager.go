// Package chunkmgr drives the chunk lifecycle: it turns participant interest
// into load and mesh jobs, runs them on a bounded worker pool and commits
// every result through a single owner loop.
package chunkmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// Stats is a point-in-time summary of the manager.
type Stats struct {
	Chunks     int
	Ready      int
	QueueDepth int
	InFlight   int

	Requested   uint64
	Generated   uint64
	Loaded      uint64
	Meshed      uint64
	Evicted     uint64
	Retried     uint64
	Failed      uint64
	Cancelled   uint64
	Quarantined uint64
	Persisted   uint64
}

type retryEntry struct {
	job Job
	due time.Time
}

// Manager owns chunk lifecycle decisions for one World. UpdateParticipant
// and RemoveParticipant may be called from any goroutine; everything else
// that mutates chunk state runs inside Step.
type Manager struct {
	cfg     Config
	world   *world.World
	gen     *world.Generator
	builder *mesh.Builder
	store   storage.ChunkStore
	pool    *Pool
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger

	mu           sync.RWMutex
	participants map[string]vec.Vec3

	// owner-loop state
	retries  []retryEntry
	attempts map[jobKey]int
	cooldown map[vec.ChunkCoord]time.Time
	now      func() time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewManager wires a manager. metrics may be nil.
func NewManager(cfg Config, w *world.World, gen *world.Generator, builder *mesh.Builder, store storage.ChunkStore, metrics *Metrics) *Manager {
	cfg = cfg.normalized()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if store == nil {
		store = storage.NewMemoryChunkStore()
	}
	m := &Manager{
		cfg:          cfg,
		world:        w,
		gen:          gen,
		builder:      builder,
		store:        store,
		metrics:      metrics,
		tracer:       otel.Tracer("github.com/annel0/voxel-world/internal/chunkmgr"),
		logger:       logging.GetChunkLogger(),
		participants: make(map[string]vec.Vec3),
		attempts:     make(map[jobKey]int),
		cooldown:     make(map[vec.ChunkCoord]time.Time),
		now:          time.Now,
	}
	m.pool = NewPool(cfg.Workers, cfg.QueueSize, m.execute, m.stillValid)
	return m
}

// World returns the managed world.
func (m *Manager) World() *world.World { return m.world }

// UpdateParticipant records the world position of a participant.
func (m *Manager) UpdateParticipant(id string, pos vec.Vec3) {
	m.mu.Lock()
	m.participants[id] = pos
	m.mu.Unlock()
}

// RemoveParticipant drops a participant's interest.
func (m *Manager) RemoveParticipant(id string) {
	m.mu.Lock()
	delete(m.participants, id)
	m.mu.Unlock()
}

// Participant returns the last known position of a participant.
func (m *Manager) Participant(id string) (vec.Vec3, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.participants[id]
	return pos, ok
}

func (m *Manager) interest() interestSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newInterestSet(m.participants, m.world.ChunkSize(), m.cfg)
}

// LOD returns the level of detail currently assigned to a chunk.
func (m *Manager) LOD(coord vec.ChunkCoord) int {
	if c, ok := m.world.Chunk(coord); ok {
		return c.LOD()
	}
	return m.interest().lod(coord, m.cfg.LODBands, mesh.MaxLOD(m.world.ChunkSize()))
}

// Start launches the worker pool. Run calls it; tests driving Step call it
// directly.
func (m *Manager) Start(ctx context.Context) {
	m.pool.Start(ctx)
}

// Run starts the workers and runs the owner loop until ctx is cancelled.
// It does not persist on exit; call Flush for that.
func (m *Manager) Run(ctx context.Context) error {
	m.Start(ctx)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info("🧱 chunk manager running (R=%d V=%d H=%d, %d workers)",
		m.cfg.InterestRadius, m.cfg.VerticalRadius, m.cfg.Hysteresis, m.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			m.pool.Wait()
			return ctx.Err()
		case res := <-m.pool.Results():
			m.apply(res)
		case <-ticker.C:
			m.Step(ctx)
		}
	}
}

// Step performs one owner-loop iteration: apply finished jobs, resubmit due
// retries, evict, request loads, update LOD and schedule meshing.
func (m *Manager) Step(ctx context.Context) {
	m.drain()
	m.runRetries()

	is := m.interest()
	m.evict(ctx, is)
	m.request(is)
	m.updateLOD(is)
	m.scheduleMeshes()
	m.updateGauges()
}

func (m *Manager) drain() {
	for {
		select {
		case res := <-m.pool.Results():
			m.apply(res)
		default:
			return
		}
	}
}

func (m *Manager) count(f func(*Stats), c interface{ Inc() }) {
	m.statsMu.Lock()
	f(&m.stats)
	m.statsMu.Unlock()
	if c != nil {
		c.Inc()
	}
}

// apply commits one result. Only the owner loop calls it.
func (m *Manager) apply(res Result) {
	m.pool.Release(res.Job)
	c, ok := m.world.Chunk(res.Coord)

	if res.Cancelled {
		m.count(func(s *Stats) { s.Cancelled++ }, m.metrics.cancelled)
		if ok && res.Kind == JobMesh {
			c.TransitionFrom(world.StateMeshing, world.StateLoaded)
		}
		return
	}

	switch res.Kind {
	case JobLoad:
		if !ok || c.State() != world.StateGenerating {
			m.count(func(s *Stats) { s.Cancelled++ }, m.metrics.cancelled)
			return
		}
		if res.Err != nil {
			m.fail(res.Job, res.Err)
			return
		}
		delete(m.attempts, res.key())
		if err := m.world.Install(res.Coord, res.Data); err != nil {
			m.logger.Error("install chunk %s: %v", res.Coord, err)
			m.world.Discard(res.Coord)
			return
		}
		if res.Source == "generator" {
			m.count(func(s *Stats) { s.Generated++ }, m.metrics.generated)
		} else {
			m.count(func(s *Stats) { s.Loaded++ }, m.metrics.loaded)
		}

	case JobMesh:
		if !ok {
			m.count(func(s *Stats) { s.Cancelled++ }, m.metrics.cancelled)
			return
		}
		if m.world.InstallMesh(res.Coord, res.Mesh) {
			m.count(func(s *Stats) { s.Meshed++ }, m.metrics.meshed)
			return
		}
		// Stale: contents changed while meshing. The chunk is still dirty
		// and will be scheduled again.
		c.TransitionFrom(world.StateMeshing, world.StateLoaded)
		m.count(func(s *Stats) { s.Cancelled++ }, m.metrics.cancelled)
	}
}

// fail requeues a job after RetryDelay, or releases the chunk once
// MaxRetries is exhausted.
func (m *Manager) fail(j Job, err error) {
	k := j.key()
	m.attempts[k]++
	if m.attempts[k] <= m.cfg.MaxRetries {
		m.retries = append(m.retries, retryEntry{job: j, due: m.now().Add(m.cfg.RetryDelay)})
		m.count(func(s *Stats) { s.Retried++ }, m.metrics.retried)
		m.logger.Debug("retry %s job for %s (attempt %d): %v", j.Kind, j.Coord, m.attempts[k], err)
		return
	}
	delete(m.attempts, k)
	m.world.Discard(j.Coord)
	m.cooldown[j.Coord] = m.now().Add(m.cfg.RetryDelay)
	m.count(func(s *Stats) { s.Failed++ }, m.metrics.failed)
	m.logger.Warn("⚠️ giving up on chunk %s after %d attempts: %v", j.Coord, m.cfg.MaxRetries+1, err)
}

func (m *Manager) runRetries() {
	if len(m.retries) == 0 {
		return
	}
	now := m.now()
	kept := m.retries[:0]
	for _, r := range m.retries {
		if now.Before(r.due) {
			kept = append(kept, r)
			continue
		}
		c, ok := m.world.Chunk(r.job.Coord)
		if !ok || c.State() != world.StateGenerating {
			delete(m.attempts, r.job.key())
			continue
		}
		if _, err := m.pool.Submit(r.job); errors.Is(err, ErrQueueFull) {
			kept = append(kept, r)
		}
	}
	m.retries = kept
}

func (m *Manager) evict(ctx context.Context, is interestSet) {
	for _, coord := range m.world.Coords() {
		if is.retains(coord) {
			continue
		}
		c, ok := m.world.Chunk(coord)
		if !ok {
			continue
		}
		if !c.State().Populated() {
			// A queued load for it is dropped at dequeue.
			m.world.Discard(coord)
			continue
		}
		version := c.Version()
		if c.Modified() {
			saved, err := m.saveChunk(ctx, coord)
			if err != nil {
				m.logger.Error("❌ persist chunk %s before eviction: %v", coord, err)
				continue
			}
			version = saved
		}
		if !m.world.EvictIfVersion(coord, version) {
			// Edited after the save; persisted again on a later step.
			m.logger.Debug("chunk %s changed during eviction, kept resident", coord)
			continue
		}
		m.count(func(s *Stats) { s.Evicted++ }, m.metrics.evicted)
	}
}

func (m *Manager) request(is interestSet) {
	now := m.now()
	for _, coord := range is.desired() {
		if _, ok := m.world.Chunk(coord); ok {
			continue
		}
		if until, ok := m.cooldown[coord]; ok {
			if now.Before(until) {
				continue
			}
			delete(m.cooldown, coord)
		}

		c, _ := m.world.Acquire(coord)
		if err := c.Transition(world.StateGenerating); err != nil {
			m.logger.Error("start loading %s: %v", coord, err)
			continue
		}
		if _, err := m.pool.Submit(Job{Coord: coord, Kind: JobLoad}); err != nil {
			// Backpressure: try again on a later step.
			m.world.Discard(coord)
			return
		}
		m.count(func(s *Stats) { s.Requested++ }, m.metrics.requested)
	}
}

func (m *Manager) updateLOD(is interestSet) {
	if len(is.centers) == 0 {
		return
	}
	maxLOD := mesh.MaxLOD(m.world.ChunkSize())
	for _, coord := range m.world.Coords() {
		if c, ok := m.world.Chunk(coord); ok {
			c.SetLOD(is.lod(coord, m.cfg.LODBands, maxLOD))
		}
	}
}

func (m *Manager) scheduleMeshes() {
	for _, coord := range m.world.Coords() {
		c, ok := m.world.Chunk(coord)
		if !ok || !c.Dirty() {
			continue
		}
		from := c.State()
		if from != world.StateLoaded && from != world.StateReady {
			continue
		}
		if !c.TransitionFrom(from, world.StateMeshing) {
			continue
		}
		vol, err := m.world.MeshInput(coord)
		if err != nil {
			c.TransitionFrom(world.StateMeshing, world.StateLoaded)
			continue
		}
		queued, err := m.pool.Submit(Job{Coord: coord, Kind: JobMesh, Volume: vol})
		if !queued {
			c.TransitionFrom(world.StateMeshing, world.StateLoaded)
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) updateGauges() {
	chunks, ready := 0, 0
	for _, coord := range m.world.Coords() {
		chunks++
		if c, ok := m.world.Chunk(coord); ok && c.State() == world.StateReady {
			ready++
		}
	}
	m.metrics.chunks.Set(float64(chunks))
	m.metrics.queueDepth.Set(float64(m.pool.QueueDepth()))
	m.metrics.inflight.Set(float64(m.pool.InFlight()))

	m.statsMu.Lock()
	m.stats.Chunks = chunks
	m.stats.Ready = ready
	m.statsMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	s := m.stats
	m.statsMu.Unlock()
	s.QueueDepth = m.pool.QueueDepth()
	s.InFlight = m.pool.InFlight()
	return s
}

// stillValid is the dequeue-time check: jobs for evicted or superseded
// chunks are dropped.
func (m *Manager) stillValid(j Job) bool {
	c, ok := m.world.Chunk(j.Coord)
	if !ok {
		return false
	}
	switch j.Kind {
	case JobLoad:
		return c.State() == world.StateGenerating
	case JobMesh:
		return c.State() == world.StateMeshing && j.Volume != nil && c.Epoch() == j.Volume.Epoch
	}
	return false
}

// execute runs on a worker goroutine.
func (m *Manager) execute(ctx context.Context, j Job) Result {
	ctx, span := m.tracer.Start(ctx, "chunk."+j.Kind.String(),
		trace.WithAttributes(attribute.String("chunk", j.Coord.String())))
	defer span.End()

	switch j.Kind {
	case JobMesh:
		msh := m.builder.Build(j.Volume)
		span.SetAttributes(attribute.Int("quads", msh.Quads))
		return Result{Mesh: msh}
	default:
		data, err := m.LoadChunk(ctx, j.Coord)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("source", "store"))
			return Result{Data: data, Source: "store"}
		case errors.Is(err, world.ErrNotFound):
			span.SetAttributes(attribute.String("source", "generator"))
			return Result{Data: m.gen.Generate(j.Coord, m.world.ChunkSize()), Source: "generator"}
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{Err: err}
		}
	}
}

// LoadChunk reads and decodes a persisted chunk. Missing data and corrupt
// data both yield an error matching world.ErrNotFound; corrupt data is
// quarantined first. Other errors are transient.
func (m *Manager) LoadChunk(ctx context.Context, coord vec.ChunkCoord) (*world.ChunkData, error) {
	blob, err := m.store.LoadChunk(ctx, coord)
	if err != nil {
		if errors.Is(err, world.ErrCorruptBlob) {
			m.count(func(s *Stats) { s.Quarantined++ }, m.metrics.quarantined)
		}
		return nil, err
	}

	size := m.world.ChunkSize()
	var data *world.ChunkData
	switch {
	case world.IsChunkBlob(blob):
		data, err = world.DecodeChunk(blob)
		if err == nil && (data.Coord != coord || data.Size != size) {
			err = fmt.Errorf("%w: blob for %s size %d stored under %s", world.ErrCorruptBlob, data.Coord, data.Size, coord)
		}
	case world.IsLegacyBlob(blob, size):
		data, err = world.DecodeLegacy(coord, blob, size, m.world.Catalog())
	default:
		err = fmt.Errorf("%w: unrecognised blob of %d bytes", world.ErrCorruptBlob, len(blob))
	}
	if err == nil {
		return data, nil
	}

	if qerr := m.store.Quarantine(ctx, coord, blob, err.Error()); qerr != nil {
		return nil, fmt.Errorf("quarantine %s: %w", coord, qerr)
	}
	m.count(func(s *Stats) { s.Quarantined++ }, m.metrics.quarantined)
	return nil, fmt.Errorf("%w: %w", world.ErrNotFound, err)
}

// SaveChunk persists a populated chunk and clears its modified flag if no
// edit raced the save.
func (m *Manager) SaveChunk(ctx context.Context, coord vec.ChunkCoord) error {
	_, err := m.saveChunk(ctx, coord)
	return err
}

// saveChunk returns the version that reached the store.
func (m *Manager) saveChunk(ctx context.Context, coord vec.ChunkCoord) (uint64, error) {
	data, err := m.world.Snapshot(coord)
	if err != nil {
		return 0, err
	}
	blob, err := world.EncodeChunk(data)
	if err != nil {
		return 0, err
	}
	if err := m.store.SaveChunk(ctx, coord, blob); err != nil {
		return 0, err
	}
	if c, ok := m.world.Chunk(coord); ok {
		c.MarkPersisted(data.Version)
	}
	m.count(func(s *Stats) { s.Persisted++ }, m.metrics.persisted)
	return data.Version, nil
}

// Flush persists every modified chunk. Used on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, coord := range m.world.Coords() {
		c, ok := m.world.Chunk(coord)
		if !ok || !c.State().Populated() || !c.Modified() {
			continue
		}
		if err := m.SaveChunk(ctx, coord); err != nil {
			errs = append(errs, fmt.Errorf("chunk %s: %w", coord, err))
		}
	}
	if len(errs) == 0 {
		m.logger.Info("💾 chunk flush complete")
	}
	return errors.Join(errs...)
}
