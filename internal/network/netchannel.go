// Package network carries replication messages between the authority and
// replicas over KCP or WebSocket.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// ErrChannelClosed is returned by Send and Receive once the channel is closed.
var ErrChannelClosed = errors.New("channel closed")

// ChannelType identifies the transport under a channel.
type ChannelType int

const (
	ChannelKCP ChannelType = iota
	ChannelWebSocket
	ChannelStream // any net.Conn, used for in-process links
)

func (t ChannelType) String() string {
	switch t {
	case ChannelKCP:
		return "kcp"
	case ChannelWebSocket:
		return "websocket"
	case ChannelStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ConnectionStats are per-channel counters.
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
	Connected       bool
	RemoteAddr      string
}

// NetChannel is a bidirectional, ordered message channel.
type NetChannel interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
	RemoteAddr() string
	Type() ChannelType
	Stats() ConnectionStats
}

// ChannelConfig configures a channel.
type ChannelConfig struct {
	BufferSize           int
	CompressionThreshold int // snapshot payloads at least this large are zstd compressed
	WriteTimeout         time.Duration
	KeepAlive            time.Duration
	HandshakeTimeout     time.Duration
}

// DefaultChannelConfig returns the defaults used by server and client.
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		BufferSize:           1024,
		CompressionThreshold: 512,
		WriteTimeout:         5 * time.Second,
		KeepAlive:            10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// framer moves whole frames over a transport.
type framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte, deadline time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// channel implements NetChannel on top of a framer with one read and one
// write goroutine.
type channel struct {
	f      framer
	kind   ChannelType
	cfg    *ChannelConfig
	codec  *Codec
	logger *logging.Logger

	sendBuffer chan protocol.Message
	recvBuffer chan protocol.Message

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lastActivity    atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newChannel(f framer, kind ChannelType, cfg *ChannelConfig) *channel {
	if cfg == nil {
		cfg = DefaultChannelConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		f:          f,
		kind:       kind,
		cfg:        cfg,
		codec:      NewCodec(cfg.CompressionThreshold),
		logger:     logging.GetNetworkLogger(),
		sendBuffer: make(chan protocol.Message, cfg.BufferSize),
		recvBuffer: make(chan protocol.Message, cfg.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	ch.touch()
	ch.wg.Add(2)
	go ch.sendLoop()
	go ch.receiveLoop()
	return ch
}

// NewStreamChannel wraps a stream connection using length-prefixed frames.
func NewStreamChannel(conn net.Conn, cfg *ChannelConfig) NetChannel {
	return newChannel(newStreamFramer(conn), ChannelStream, cfg)
}

func (ch *channel) touch() { ch.lastActivity.Store(time.Now().UnixNano()) }

func (ch *channel) fail(err error) {
	ch.errMu.Lock()
	if ch.err == nil {
		ch.err = err
	}
	ch.errMu.Unlock()
	ch.cancel()
}

func (ch *channel) closedErr() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	if ch.err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, ch.err)
	}
	return ErrChannelClosed
}

func (ch *channel) Send(ctx context.Context, msg protocol.Message) error {
	if ch.ctx.Err() != nil {
		return ch.closedErr()
	}
	select {
	case ch.sendBuffer <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-ch.ctx.Done():
		return ch.closedErr()
	}
}

// Receive returns the next message. Messages read before the channel
// closed are still delivered.
func (ch *channel) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-ch.recvBuffer:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ch.ctx.Done():
		select {
		case msg := <-ch.recvBuffer:
			return msg, nil
		default:
			return nil, ch.closedErr()
		}
	}
}

func (ch *channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.cancel()
		err = ch.f.Close()
		ch.wg.Wait()
		ch.logger.Debug("%s channel to %s closed", ch.kind, ch.RemoteAddr())
	})
	return err
}

func (ch *channel) RemoteAddr() string {
	if addr := ch.f.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (ch *channel) Type() ChannelType { return ch.kind }

func (ch *channel) Stats() ConnectionStats {
	return ConnectionStats{
		PacketsSent:     ch.packetsSent.Load(),
		PacketsReceived: ch.packetsReceived.Load(),
		BytesSent:       ch.bytesSent.Load(),
		BytesReceived:   ch.bytesReceived.Load(),
		LastActivity:    time.Unix(0, ch.lastActivity.Load()),
		Connected:       ch.ctx.Err() == nil,
		RemoteAddr:      ch.RemoteAddr(),
	}
}

func (ch *channel) sendLoop() {
	defer ch.wg.Done()
	for {
		select {
		case msg := <-ch.sendBuffer:
			frame := ch.codec.Encode(msg)
			var deadline time.Time
			if ch.cfg.WriteTimeout > 0 {
				deadline = time.Now().Add(ch.cfg.WriteTimeout)
			}
			if err := ch.f.WriteFrame(frame, deadline); err != nil {
				ch.logger.Debug("write to %s failed: %v", ch.RemoteAddr(), err)
				ch.fail(err)
				return
			}
			ch.packetsSent.Add(1)
			ch.bytesSent.Add(uint64(len(frame)))
			ch.touch()
		case <-ch.ctx.Done():
			return
		}
	}
}

func (ch *channel) receiveLoop() {
	defer ch.wg.Done()
	for {
		frame, err := ch.f.ReadFrame()
		if err != nil {
			ch.fail(err)
			return
		}
		ch.packetsReceived.Add(1)
		ch.bytesReceived.Add(uint64(len(frame)))
		ch.touch()

		msg, err := ch.codec.Decode(frame)
		if err != nil {
			logging.LogProtocolError(ch.logger, ch.RemoteAddr(), err, frame)
			continue
		}
		select {
		case ch.recvBuffer <- msg:
		case <-ch.ctx.Done():
			return
		}
	}
}
