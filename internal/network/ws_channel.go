package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsFramer sends each frame as one binary WebSocket message.
type wsFramer struct {
	conn *websocket.Conn
}

func (w *wsFramer) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsFramer) WriteFrame(frame []byte, deadline time.Time) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	if !deadline.IsZero() {
		_ = w.conn.SetWriteDeadline(deadline)
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsFramer) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

func (w *wsFramer) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

// NewWebSocketChannel wraps an upgraded or dialled connection.
func NewWebSocketChannel(conn *websocket.Conn, cfg *ChannelConfig) NetChannel {
	conn.SetReadLimit(MaxFrameSize)
	return newChannel(&wsFramer{conn: conn}, ChannelWebSocket, cfg)
}

// DialWebSocket connects to a ws:// or wss:// endpoint.
func DialWebSocket(ctx context.Context, url string, cfg *ChannelConfig) (NetChannel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewWebSocketChannel(conn, cfg), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
