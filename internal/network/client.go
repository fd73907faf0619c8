package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/replication"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Client is the replica side of a connection: it forwards everything the
// server sends into a Replica and reconciles it on its own tick.
type Client struct {
	ch          NetChannel
	participant string
	replica     *replication.Replica
	logger      *logging.Logger

	rtt       atomic.Int64
	nonce     atomic.Uint64
	pingMu    sync.Mutex
	pingsSent map[uint64]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient builds a client on an open channel. Resync requests raised by
// the replica go back over the same channel.
func NewClient(ch NetChannel, participant string, w *world.World, cfg replication.Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ch:          ch,
		participant: participant,
		logger:      logging.GetNetworkLogger(),
		pingsSent:   make(map[uint64]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.replica = replication.NewReplica(w, cfg, replication.SenderFunc(func(msg protocol.Message) error {
		sctx, scancel := context.WithTimeout(c.ctx, time.Second)
		defer scancel()
		return c.ch.Send(sctx, msg)
	}), nil)
	return c
}

// Connect sends the opening InterestUpdate and starts the receive and
// update loops. updateEvery is the reconciliation tick.
func (c *Client) Connect(ctx context.Context, pos vec.Vec3, updateEvery time.Duration) error {
	if err := c.ch.Send(ctx, &protocol.InterestUpdate{Participant: c.participant, Pos: pos}); err != nil {
		return err
	}
	if updateEvery <= 0 {
		updateEvery = 50 * time.Millisecond
	}
	c.wg.Add(2)
	go c.receiveLoop()
	go c.updateLoop(updateEvery)
	return nil
}

// Replica exposes the local mirror.
func (c *Client) Replica() *replication.Replica { return c.replica }

// MoveTo reports a new interest centre.
func (c *Client) MoveTo(ctx context.Context, pos vec.Vec3) error {
	return c.ch.Send(ctx, &protocol.InterestUpdate{Participant: c.participant, Pos: pos})
}

// PlaceBlock applies the edit speculatively and asks the server to make it
// authoritative. The local write is reverted if the server rejects it.
func (c *Client) PlaceBlock(ctx context.Context, pos vec.Vec3, v world.Voxel) (uint64, error) {
	seq, err := c.replica.ApplySpeculative(pos, v)
	if err != nil {
		return 0, err
	}
	req := &protocol.EditRequest{
		Participant: c.participant,
		Pos:         pos,
		BlockID:     v.ID,
		Variant:     v.Variant,
		ClientSeq:   seq,
	}
	return seq, c.ch.Send(ctx, req)
}

// BreakBlock is PlaceBlock with air.
func (c *Client) BreakBlock(ctx context.Context, pos vec.Vec3) (uint64, error) {
	return c.PlaceBlock(ctx, pos, world.Block(block.AirBlockID))
}

// Ping measures the round trip; the result shows up in RTT.
func (c *Client) Ping(ctx context.Context) error {
	n := c.nonce.Add(1)
	c.pingMu.Lock()
	c.pingsSent[n] = time.Now()
	c.pingMu.Unlock()
	return c.ch.Send(ctx, &protocol.Ping{Nonce: n})
}

// RTT returns the last measured round trip.
func (c *Client) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	for {
		msg, err := c.ch.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("connection to %s lost: %v", c.ch.RemoteAddr(), err)
				c.cancel()
			}
			return
		}
		if pong, ok := msg.(*protocol.Pong); ok {
			c.pingMu.Lock()
			if sent, ok := c.pingsSent[pong.Nonce]; ok {
				c.rtt.Store(int64(time.Since(sent)))
				delete(c.pingsSent, pong.Nonce)
			}
			c.pingMu.Unlock()
			continue
		}
		c.replica.Handle(msg)
	}
}

func (c *Client) updateLoop(every time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.replica.Update()
		}
	}
}

// Done is closed when the client stops.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Close stops the loops and the channel.
func (c *Client) Close() error {
	c.cancel()
	err := c.ch.Close()
	c.wg.Wait()
	return err
}
