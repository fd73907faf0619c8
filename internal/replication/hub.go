package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// ErrUnknownPeer is returned for operations on a peer that left.
var ErrUnknownPeer = errors.New("unknown peer")

// Peer is one connected replica as seen by the hub. Messages for it are
// queued on a bounded outbox that the transport drains.
type Peer struct {
	ID          string
	Participant string

	out     chan protocol.Message
	dropped atomic.Uint64

	mu        sync.Mutex
	center    vec.ChunkCoord
	hasCenter bool
	synced    map[vec.ChunkCoord]uint64 // chunk -> snapshot version sent
	resync    map[vec.ChunkCoord]struct{}
}

// Outbox delivers queued messages in order.
func (p *Peer) Outbox() <-chan protocol.Message { return p.out }

// Dropped returns how many messages could not be queued.
func (p *Peer) Dropped() uint64 { return p.dropped.Load() }

// PendingResyncs returns the chunks flagged for a fresh snapshot.
func (p *Peer) PendingResyncs() []vec.ChunkCoord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vec.ChunkCoord, 0, len(p.resync))
	for c := range p.resync {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (p *Peer) offer(msg protocol.Message) bool {
	select {
	case p.out <- msg:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Hub fans authoritative records out to interested peers and serves bulk
// snapshots on first interest and on resync.
type Hub struct {
	world     *world.World
	snapshots cache.SnapshotCache
	cfg       Config
	metrics   *Metrics
	logger    *logging.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewHub creates a hub. snapshots and metrics may be nil.
func NewHub(w *world.World, snapshots cache.SnapshotCache, cfg Config, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		world:     w,
		snapshots: snapshots,
		cfg:       cfg.normalized(),
		metrics:   metrics,
		logger:    logging.GetReplicationLogger(),
		peers:     make(map[string]*Peer),
	}
}

// Join registers a peer for participant.
func (h *Hub) Join(participant string) *Peer {
	p := &Peer{
		ID:          uuid.NewString(),
		Participant: participant,
		out:         make(chan protocol.Message, h.cfg.OutboxSize),
		synced:      make(map[vec.ChunkCoord]uint64),
		resync:      make(map[vec.ChunkCoord]struct{}),
	}
	h.mu.Lock()
	h.peers[p.ID] = p
	n := len(h.peers)
	h.mu.Unlock()
	h.metrics.peers.Set(float64(n))
	h.logger.Info("👤 peer %s joined for %s", p.ID, participant)
	return p
}

// Leave unregisters a peer.
func (h *Hub) Leave(peerID string) {
	h.mu.Lock()
	_, ok := h.peers[peerID]
	delete(h.peers, peerID)
	n := len(h.peers)
	h.mu.Unlock()
	if ok {
		h.metrics.peers.Set(float64(n))
		h.logger.Info("👋 peer %s left", peerID)
	}
}

// Peer looks up a peer by id.
func (h *Hub) Peer(peerID string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[peerID]
	return p, ok
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) snapshotPeers() []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

func (h *Hub) interested(p *Peer, c vec.ChunkCoord) bool {
	if !p.hasCenter {
		return false
	}
	return within(p.center, c, h.cfg.InterestRadius, h.cfg.VerticalRadius)
}

func within(center, c vec.ChunkCoord, r, v int) bool {
	dx, dy, dz := c.X-center.X, c.Y-center.Y, c.Z-center.Z
	return dz >= -v && dz <= v && dx*dx+dy*dy <= r*r
}

// UpdateInterest moves the peer's interest centre to pos and sends
// snapshots for every newly interesting chunk that is loaded. It returns the
// number of snapshots queued.
func (h *Hub) UpdateInterest(ctx context.Context, peerID string, pos vec.Vec3) (int, error) {
	p, ok := h.Peer(peerID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	center, _ := vec.ToChunk(pos, h.world.ChunkSize())

	p.mu.Lock()
	p.center, p.hasCenter = center, true
	for c := range p.synced {
		if !h.interested(p, c) {
			delete(p.synced, c)
			delete(p.resync, c)
		}
	}
	p.mu.Unlock()

	return h.catchUp(ctx, p)
}

// catchUp sends snapshots for interesting chunks the peer does not hold
// yet, or that are flagged for resync.
func (h *Hub) catchUp(ctx context.Context, p *Peer) (int, error) {
	p.mu.Lock()
	if !p.hasCenter {
		p.mu.Unlock()
		return 0, nil
	}
	var want []vec.ChunkCoord
	for _, c := range h.world.Coords() {
		if !h.interested(p, c) {
			continue
		}
		_, synced := p.synced[c]
		_, flagged := p.resync[c]
		if !synced || flagged {
			want = append(want, c)
		}
	}
	p.mu.Unlock()

	sent := 0
	for _, c := range want {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		err := h.SendSnapshot(ctx, p, c)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, world.ErrChunkNotLoaded):
			// sent once the chunk is loaded
		default:
			return sent, err
		}
	}
	return sent, nil
}

// HandleRecord implements RecordSink.
func (h *Hub) HandleRecord(rec protocol.EditRecord) {
	h.Broadcast(rec)
}

// Broadcast queues rec to every peer holding the chunk. A peer whose outbox
// is full is flagged for resync of that chunk instead of blocking.
func (h *Hub) Broadcast(rec protocol.EditRecord) {
	for _, p := range h.snapshotPeers() {
		p.mu.Lock()
		_, synced := p.synced[rec.Chunk]
		_, flagged := p.resync[rec.Chunk]
		if !synced || flagged || !h.interested(p, rec.Chunk) {
			p.mu.Unlock()
			continue
		}
		r := rec
		if p.offer(&r) {
			h.metrics.broadcast.Inc()
		} else {
			p.resync[rec.Chunk] = struct{}{}
			h.metrics.dropped.Inc()
			h.logger.Warn("⚠️ outbox of peer %s full, %s flagged for resync", p.ID, rec.Chunk)
		}
		p.mu.Unlock()
	}
}

// SendSnapshot queues a full snapshot of coord to p.
func (h *Hub) SendSnapshot(ctx context.Context, p *Peer, coord vec.ChunkCoord) error {
	// Mark first: records applied after the snapshot is taken are then
	// broadcast to the peer, and older ones are covered by LastSeq.
	p.mu.Lock()
	p.synced[coord] = 0
	p.mu.Unlock()

	msg, err := h.Snapshot(ctx, coord)
	if err != nil {
		p.mu.Lock()
		delete(p.synced, coord)
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.offer(msg) {
		p.resync[coord] = struct{}{}
		h.metrics.dropped.Inc()
		return nil
	}
	p.synced[coord] = msg.Version
	delete(p.resync, coord)
	h.metrics.snapshots.Inc()
	return nil
}

// Snapshot builds a bulk-sync message for a loaded chunk, reusing a cached
// blob for the same version when one exists.
func (h *Hub) Snapshot(ctx context.Context, coord vec.ChunkCoord) (*protocol.ChunkSnapshot, error) {
	data, err := h.world.Snapshot(coord)
	if err != nil {
		return nil, err
	}
	msg := &protocol.ChunkSnapshot{Chunk: coord, Version: data.Version, LastSeq: data.LastSeq}

	if h.snapshots != nil {
		if blob, err := h.snapshots.Get(ctx, coord, data.Version); err == nil {
			msg.Blob = blob
			return msg, nil
		}
	}
	blob, err := world.EncodeChunk(data)
	if err != nil {
		return nil, err
	}
	if h.snapshots != nil {
		if err := h.snapshots.Set(ctx, coord, data.Version, blob); err != nil {
			h.logger.Debug("snapshot cache set %s: %v", coord, err)
		}
	}
	msg.Blob = blob
	return msg, nil
}

// HandleResync serves a replica's resync request.
func (h *Hub) HandleResync(ctx context.Context, peerID string, req *protocol.ResyncRequest) error {
	p, ok := h.Peer(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	h.metrics.resyncs.Inc()
	h.logger.Info("🔄 resync of %s for peer %s: %s", req.Chunk, peerID, req.Reason)
	return h.SendSnapshot(ctx, p, req.Chunk)
}

// Pump retries flagged resyncs and sends chunks that became loaded since the
// peer's last interest update.
func (h *Hub) Pump(ctx context.Context) {
	for _, p := range h.snapshotPeers() {
		if _, err := h.catchUp(ctx, p); err != nil && ctx.Err() == nil {
			h.logger.Error("catch up peer %s: %v", p.ID, err)
		}
	}
}

// Run pumps every interval and reacts to world notifications until ctx ends.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	notes, cancel := h.world.Subscribe(0)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			switch n.Kind {
			case world.NotifyLoaded:
				h.Pump(ctx)
			case world.NotifyEvicted:
				if h.snapshots != nil {
					_ = h.snapshots.Invalidate(ctx, n.Coord)
				}
			}
		case <-ticker.C:
			h.Pump(ctx)
		}
	}
}
