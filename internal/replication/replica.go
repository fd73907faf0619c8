package replication

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// Sender delivers messages from a replica to the authority.
type Sender interface {
	Send(msg protocol.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg protocol.Message) error

func (f SenderFunc) Send(msg protocol.Message) error { return f(msg) }

// ReplicaStats counts what a replica has done.
type ReplicaStats struct {
	Applied        uint64
	Duplicates     uint64
	Buffered       int
	Snapshots      uint64
	StaleSnapshots uint64
	Confirmed      uint64
	Mispredicted   uint64
	Reverted       uint64
	Divergences    uint64
	Desyncs        uint64
}

type speculation struct {
	coord     vec.ChunkCoord
	index     int
	prior     world.Voxel // authoritative value before the first speculation
	voxel     world.Voxel
	clientSeq uint64
	age       int
}

type replicaChunk struct {
	buffer     map[uint64]protocol.EditRecord
	gapTicks   int
	divergence int
	awaiting   bool // resync requested, snapshot pending
	waitTicks  int
}

type specKey struct {
	coord vec.ChunkCoord
	index int
}

// Replica mirrors the authoritative world from records and snapshots.
// Receive* only queue; all state changes happen in Update, on the owner's
// own cycle.
type Replica struct {
	world   *world.World
	cfg     Config
	sender  Sender
	metrics *Metrics
	logger  *logging.Logger

	inMu  sync.Mutex
	inbox []protocol.Message

	mu        sync.Mutex
	chunks    map[vec.ChunkCoord]*replicaChunk
	specs     map[specKey]*speculation
	clientSeq uint64
	stats     ReplicaStats
}

// NewReplica creates a replica writing into w. sender may be nil when no
// resync channel exists (mirror replicas that only consume the bus).
func NewReplica(w *world.World, cfg Config, sender Sender, metrics *Metrics) *Replica {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Replica{
		world:   w,
		cfg:     cfg.normalized(),
		sender:  sender,
		metrics: metrics,
		logger:  logging.GetReplicationLogger(),
		chunks:  make(map[vec.ChunkCoord]*replicaChunk),
		specs:   make(map[specKey]*speculation),
	}
}

// World returns the replica's world.
func (r *Replica) World() *world.World { return r.world }

// Receive queues an authoritative record.
func (r *Replica) Receive(rec protocol.EditRecord) {
	r.enqueue(&rec)
}

// ReceiveSnapshot queues a bulk snapshot.
func (r *Replica) ReceiveSnapshot(snap *protocol.ChunkSnapshot) {
	r.enqueue(snap)
}

// ReceiveOutcome queues the authority's answer to a speculative edit.
func (r *Replica) ReceiveOutcome(out *protocol.EditOutcome) {
	r.enqueue(out)
}

// Handle queues any replication message; unrelated types are ignored.
func (r *Replica) Handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.EditRecord:
		r.Receive(*m)
	case *protocol.EditBatch:
		for _, rec := range m.Records {
			r.Receive(rec)
		}
	case *protocol.ChunkSnapshot:
		r.ReceiveSnapshot(m)
	case *protocol.EditOutcome:
		r.ReceiveOutcome(m)
	}
}

func (r *Replica) enqueue(msg protocol.Message) {
	r.inMu.Lock()
	r.inbox = append(r.inbox, msg)
	r.inMu.Unlock()
}

// ApplySpeculative writes v locally ahead of the authority's answer and
// returns the client sequence to put on the EditRequest.
func (r *Replica) ApplySpeculative(pos vec.Vec3, v world.Voxel) (uint64, error) {
	coord, index := r.world.Locate(pos)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, err := r.world.Set(coord, index, v)
	if err != nil {
		return 0, err
	}
	r.clientSeq++
	k := specKey{coord, index}
	s, ok := r.specs[k]
	if !ok {
		s = &speculation{coord: coord, index: index, prior: prev}
		r.specs[k] = s
	}
	s.voxel, s.clientSeq, s.age = v, r.clientSeq, 0
	return r.clientSeq, nil
}

// Update processes everything received since the previous call: snapshots,
// then records in sequence order per chunk, then outcomes, then
// speculation timeouts and desync detection.
func (r *Replica) Update() {
	r.inMu.Lock()
	inbox := r.inbox
	r.inbox = nil
	r.inMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	var outcomes []*protocol.EditOutcome
	for _, msg := range inbox {
		switch m := msg.(type) {
		case *protocol.ChunkSnapshot:
			r.applySnapshot(m)
		case *protocol.EditRecord:
			r.buffer(*m)
		case *protocol.EditOutcome:
			outcomes = append(outcomes, m)
		}
	}

	for _, coord := range r.sortedChunks() {
		r.drain(coord)
	}
	for _, out := range outcomes {
		r.settle(out)
	}
	r.ageSpeculations()

	for _, coord := range r.sortedChunks() {
		r.checkDesync(coord)
	}
}

func (r *Replica) chunk(coord vec.ChunkCoord) *replicaChunk {
	rc, ok := r.chunks[coord]
	if !ok {
		rc = &replicaChunk{buffer: make(map[uint64]protocol.EditRecord)}
		r.chunks[coord] = rc
	}
	return rc
}

func (r *Replica) sortedChunks() []vec.ChunkCoord {
	out := make([]vec.ChunkCoord, 0, len(r.chunks))
	for c := range r.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Replica) lastSeq(coord vec.ChunkCoord) (uint64, bool) {
	c, ok := r.world.Chunk(coord)
	if !ok || !c.State().Populated() {
		return 0, false
	}
	return c.LastSeq(), true
}

func (r *Replica) applySnapshot(m *protocol.ChunkSnapshot) {
	rc := r.chunk(m.Chunk)
	if last, ok := r.lastSeq(m.Chunk); ok && m.LastSeq < last && !rc.awaiting {
		r.stats.StaleSnapshots++
		return
	}
	data, err := world.DecodeChunk(m.Blob)
	if err == nil && (data.Coord != m.Chunk || data.Size != r.world.ChunkSize()) {
		err = fmt.Errorf("%w: snapshot for %s carries %s", world.ErrCorruptBlob, m.Chunk, data.Coord)
	}
	if err != nil {
		r.logger.Error("❌ bad snapshot for %s: %v", m.Chunk, err)
		r.requestResync(m.Chunk, rc, "bad snapshot")
		return
	}
	data.Version, data.LastSeq = m.Version, m.LastSeq
	if err := r.world.Replace(data); err != nil {
		r.logger.Error("❌ install snapshot for %s: %v", m.Chunk, err)
		return
	}

	for seq := range rc.buffer {
		if seq <= m.LastSeq {
			delete(rc.buffer, seq)
		}
	}
	for k := range r.specs {
		if k.coord == m.Chunk {
			delete(r.specs, k)
		}
	}
	rc.awaiting, rc.gapTicks, rc.divergence = false, 0, 0
	r.stats.Snapshots++
}

func (r *Replica) buffer(rec protocol.EditRecord) {
	if last, ok := r.lastSeq(rec.Chunk); ok && rec.Sequence <= last {
		r.stats.Duplicates++
		return
	}
	rc := r.chunk(rec.Chunk)
	if _, dup := rc.buffer[rec.Sequence]; dup {
		r.stats.Duplicates++
		return
	}
	rc.buffer[rec.Sequence] = rec
}

// drain applies consecutive buffered records starting at LastSeq+1.
func (r *Replica) drain(coord vec.ChunkCoord) {
	rc := r.chunks[coord]
	if rc.awaiting {
		return
	}
	last, ok := r.lastSeq(coord)
	if !ok {
		// records for a chunk we hold no snapshot of yet
		if len(rc.buffer) > 0 {
			rc.gapTicks++
		}
		return
	}
	for {
		rec, ok := rc.buffer[last+1]
		if !ok {
			break
		}
		delete(rc.buffer, last+1)
		r.applyRecord(rc, rec)
		last = rec.Sequence
	}
	if len(rc.buffer) > 0 {
		rc.gapTicks++
	} else {
		rc.gapTicks = 0
	}
}

func (r *Replica) applyRecord(rc *replicaChunk, rec protocol.EditRecord) {
	k := specKey{rec.Chunk, int(rec.Index)}
	v := rec.Voxel()
	if s, ok := r.specs[k]; ok {
		// Last authoritative wins; a matching record confirms the guess.
		if s.voxel.SameCell(v) {
			r.stats.Confirmed++
		} else {
			r.stats.Mispredicted++
		}
		delete(r.specs, k)
	} else if cur, err := r.world.Get(rec.Chunk, int(rec.Index)); err == nil && cur.ID != rec.OldID {
		rc.divergence++
		r.stats.Divergences++
	}

	if _, err := r.world.ApplyAuthoritative(rec.Chunk, int(rec.Index), v, rec.Sequence); err != nil {
		r.logger.Error("apply %s: %v", &rec, err)
		return
	}
	r.stats.Applied++
}

func (r *Replica) settle(out *protocol.EditOutcome) {
	if out.Applied {
		return
	}
	for k, s := range r.specs {
		if s.clientSeq == out.ClientSeq {
			r.revert(k, s)
			return
		}
	}
}

func (r *Replica) ageSpeculations() {
	for k, s := range r.specs {
		s.age++
		if s.age > r.cfg.SpeculativeTimeoutTicks {
			r.revert(k, s)
		}
	}
}

func (r *Replica) revert(k specKey, s *speculation) {
	delete(r.specs, k)
	if _, err := r.world.Set(s.coord, s.index, s.prior); err != nil {
		r.logger.Debug("revert speculation at %s #%d: %v", s.coord, s.index, err)
		return
	}
	r.stats.Reverted++
}

func (r *Replica) checkDesync(coord vec.ChunkCoord) {
	rc := r.chunks[coord]
	if rc.awaiting {
		// the request or its answer may have been lost
		if rc.waitTicks++; rc.waitTicks > r.cfg.MaxGapTicks {
			r.requestResync(coord, rc, "resync timed out")
		}
		return
	}
	var reason string
	switch {
	case rc.gapTicks > r.cfg.MaxGapTicks:
		reason = "sequence gap"
	case len(rc.buffer) > r.cfg.MaxBuffered:
		reason = "reorder buffer overflow"
	case rc.divergence > r.cfg.MaxDivergence:
		reason = "divergence"
	default:
		return
	}
	r.requestResync(coord, rc, reason)
}

func (r *Replica) requestResync(coord vec.ChunkCoord, rc *replicaChunk, reason string) {
	err := fmt.Errorf("%w: %s: %s", world.ErrReplicationDesync, coord, reason)
	r.logger.Warn("⚠️ %v, requesting resync", err)
	r.stats.Desyncs++
	r.metrics.desyncs.Inc()

	rc.awaiting, rc.gapTicks, rc.divergence, rc.waitTicks = true, 0, 0, 0
	if r.sender == nil {
		return
	}
	if serr := r.sender.Send(&protocol.ResyncRequest{Chunk: coord, Reason: reason}); serr != nil {
		r.logger.Error("send resync for %s: %v", coord, serr)
		rc.awaiting = false
		return
	}
	r.metrics.resyncs.Inc()
}

// Awaiting reports whether a resync for coord is outstanding.
func (r *Replica) Awaiting(coord vec.ChunkCoord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.chunks[coord]
	return ok && rc.awaiting
}

// Stats returns a snapshot of the counters.
func (r *Replica) Stats() ReplicaStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	for _, rc := range r.chunks {
		s.Buffered += len(rc.buffer)
	}
	return s
}
