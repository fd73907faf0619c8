package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// ErrNothingToUndo is returned by Undo when the participant has no edit
// that is still current.
var ErrNothingToUndo = errors.New("nothing to undo")

// RecordSink receives every applied edit record in sequence order per chunk.
// Implementations must not block.
type RecordSink interface {
	HandleRecord(rec protocol.EditRecord)
}

type auditEntry struct {
	rec    protocol.EditRecord
	prev   world.Voxel // full voxel replaced by rec, metadata included
	undo   bool        // the record reverts an earlier one
	undone bool
}

// Authority is the only writer of the authoritative World on behalf of
// participants.
type Authority struct {
	world   *world.World
	rules   []Rule
	sinks   []RecordSink
	metrics *Metrics
	logger  *logging.Logger
	now     func() time.Time

	// mu orders record delivery with sequence assignment
	mu    sync.Mutex
	audit []auditEntry
	next  int
	full  bool
}

// NewAuthority creates an authority over w. metrics may be nil.
func NewAuthority(w *world.World, cfg Config, rules []Rule, metrics *Metrics, sinks ...RecordSink) *Authority {
	cfg = cfg.normalized()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Authority{
		world:   w,
		rules:   rules,
		sinks:   sinks,
		metrics: metrics,
		logger:  logging.GetReplicationLogger(),
		now:     time.Now,
		audit:   make([]auditEntry, cfg.AuditSize),
	}
}

// AddSink registers another record consumer.
func (a *Authority) AddSink(s RecordSink) {
	a.mu.Lock()
	a.sinks = append(a.sinks, s)
	a.mu.Unlock()
}

// RequestEdit places id at pos on behalf of participant.
func (a *Authority) RequestEdit(ctx context.Context, participant string, pos vec.Vec3, id block.BlockID) protocol.EditOutcome {
	return a.RequestEditVariant(ctx, participant, pos, world.Block(id))
}

// RequestEditVariant is RequestEdit with a full voxel.
func (a *Authority) RequestEditVariant(ctx context.Context, participant string, pos vec.Vec3, v world.Voxel) protocol.EditOutcome {
	coord, index := a.world.Locate(pos)
	return a.edit(ctx, participant, pos, coord, index, v, false)
}

// RequestEditAt addresses the cell by chunk and local index.
func (a *Authority) RequestEditAt(ctx context.Context, participant string, coord vec.ChunkCoord, index int, v world.Voxel) protocol.EditOutcome {
	return a.editAt(ctx, participant, coord, index, v, false)
}

func (a *Authority) editAt(ctx context.Context, participant string, coord vec.ChunkCoord, index int, v world.Voxel, undo bool) protocol.EditOutcome {
	size := a.world.ChunkSize()
	var pos vec.Vec3
	if index >= 0 && index < size*size*size {
		pos = coord.Origin(size).Add(vec.IndexToLocal(index, size))
	}
	return a.edit(ctx, participant, pos, coord, index, v, undo)
}

// Handle serves a wire EditRequest.
func (a *Authority) Handle(ctx context.Context, req *protocol.EditRequest) *protocol.EditOutcome {
	out := a.RequestEditVariant(ctx, req.Participant, req.Pos, world.Voxel{ID: req.BlockID, Variant: req.Variant})
	out.ClientSeq = req.ClientSeq
	return &out
}

func (a *Authority) edit(ctx context.Context, participant string, pos vec.Vec3, coord vec.ChunkCoord, index int, v world.Voxel, undo bool) protocol.EditOutcome {
	if err := ctx.Err(); err != nil {
		return a.reject(coord, participant, err)
	}
	ec := EditContext{Participant: participant, Pos: pos, Chunk: coord, Index: index, Voxel: v}
	check := func(current world.Voxel) error {
		for _, r := range a.rules {
			if err := r.Check(ec, current); err != nil {
				return err
			}
		}
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.world.Edit(coord, index, v, check)
	if err != nil {
		return a.reject(coord, participant, err)
	}

	rec := protocol.EditRecord{
		Chunk:      coord,
		Index:      uint32(index),
		OldID:      res.Prev.ID,
		NewID:      v.ID,
		Variant:    v.Variant,
		Sequence:   res.Seq,
		Originator: participant,
		Timestamp:  a.now().UnixNano(),
		OldVariant: res.Prev.Variant,
	}
	a.remember(rec, res.Prev, undo)
	for _, s := range a.sinks {
		s.HandleRecord(rec)
	}
	a.metrics.applied.Inc()
	a.logger.Trace("applied %s", &rec)
	return protocol.EditOutcome{Applied: true, Sequence: res.Seq, Chunk: coord}
}

func (a *Authority) reject(coord vec.ChunkCoord, participant string, err error) protocol.EditOutcome {
	reason := world.ReasonOf(err)
	a.metrics.rejected.WithLabelValues(reason.String()).Inc()
	a.logger.Debug("edit by %s in %s rejected: %v", participant, coord, err)
	return protocol.EditOutcome{Reason: reason, Chunk: coord}
}

func (a *Authority) remember(rec protocol.EditRecord, prev world.Voxel, undo bool) {
	a.audit[a.next] = auditEntry{rec: rec, prev: prev, undo: undo}
	a.next = (a.next + 1) % len(a.audit)
	if a.next == 0 {
		a.full = true
	}
}

// entries returns audit positions newest first. Callers hold a.mu.
func (a *Authority) entries() []int {
	n := a.next
	if a.full {
		n = len(a.audit)
	}
	out := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, (a.next-i+len(a.audit))%len(a.audit))
	}
	return out
}

// Audit returns the retained records, oldest first.
func (a *Authority) Audit() []protocol.EditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.entries()
	out := make([]protocol.EditRecord, len(idx))
	for i, j := range idx {
		out[len(idx)-1-i] = a.audit[j].rec
	}
	return out
}

// Undo reverts the participant's most recent edit whose result is still in
// place, restoring the replaced voxel with its variant and metadata. The
// revert goes through the rules like any other edit.
func (a *Authority) Undo(ctx context.Context, participant string) (protocol.EditOutcome, error) {
	a.mu.Lock()
	var (
		target protocol.EditRecord
		prev   world.Voxel
		slot   = -1
	)
	for _, j := range a.entries() {
		e := a.audit[j]
		if e.rec.Originator != participant || e.undo || e.undone {
			continue
		}
		current, err := a.world.Get(e.rec.Chunk, int(e.rec.Index))
		if err != nil || !current.SameCell(e.rec.Voxel()) {
			continue
		}
		target, prev, slot = e.rec, e.prev, j
		break
	}
	a.mu.Unlock()
	if slot < 0 {
		return protocol.EditOutcome{}, ErrNothingToUndo
	}

	out := a.editAt(ctx, participant, target.Chunk, int(target.Index), prev, true)
	if !out.Applied {
		return out, nil
	}

	a.mu.Lock()
	// the slot may have been overwritten by the ring in the meantime
	if e := a.audit[slot].rec; e.Sequence == target.Sequence && e.Chunk == target.Chunk {
		a.audit[slot].undone = true
	}
	a.mu.Unlock()

	a.metrics.undone.Inc()
	return out, nil
}
