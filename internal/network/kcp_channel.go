package network

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xtaci/kcp-go/v5"
)

// streamFramer frames a byte stream with a 4-byte length prefix.
type streamFramer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newStreamFramer(conn net.Conn) *streamFramer {
	return &streamFramer{conn: conn, r: bufio.NewReaderSize(conn, 64<<10)}
}

func (s *streamFramer) ReadFrame() ([]byte, error) { return readFrame(s.r) }

func (s *streamFramer) WriteFrame(frame []byte, deadline time.Time) error {
	if !deadline.IsZero() {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	return writeFrame(s.conn, frame)
}

func (s *streamFramer) Close() error         { return s.conn.Close() }
func (s *streamFramer) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// tuneKCP applies the low-latency settings used on both ends.
func tuneKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

// NewKCPChannel wraps an established KCP session.
func NewKCPChannel(conn *kcp.UDPSession, cfg *ChannelConfig) NetChannel {
	tuneKCP(conn)
	return newChannel(newStreamFramer(conn), ChannelKCP, cfg)
}

// DialKCP connects to a KCP server. Forward error correction uses 10 data
// and 3 parity shards.
func DialKCP(ctx context.Context, addr string, cfg *ChannelConfig) (NetChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewKCPChannel(conn, cfg), nil
}

// ListenKCP opens a KCP listener with the same FEC settings as DialKCP.
func ListenKCP(addr string) (*kcp.Listener, error) {
	l, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, nil
}
