package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/replication"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
)

// EditHandler validates and applies edit requests. *replication.Authority
// implements it.
type EditHandler interface {
	Handle(ctx context.Context, req *protocol.EditRequest) *protocol.EditOutcome
}

// InterestTracker is told where participants are so their chunks get
// loaded. *chunkmgr.Manager implements it.
type InterestTracker interface {
	UpdateParticipant(id string, pos vec.Vec3)
	RemoveParticipant(id string)
}

// Options wires a Server. Chunks and Positions are optional.
type Options struct {
	Edits     EditHandler
	Hub       *replication.Hub
	Chunks    InterestTracker
	Positions storage.PositionRepo
	Channel   *ChannelConfig
	Metrics   *Metrics
}

// Server accepts replica connections over KCP and WebSocket and runs a
// session for each.
type Server struct {
	edits     EditHandler
	hub       *replication.Hub
	chunks    InterestTracker
	positions storage.PositionRepo
	cfg       *ChannelConfig
	metrics   *Metrics
	logger    *logging.Logger

	mu           sync.RWMutex
	sessions     map[string]*Session
	participants map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	kcpListener *kcp.Listener
	httpServer  *http.Server
}

// NewServer creates a server; nothing listens until ListenKCP or
// ListenWebSocket is called.
func NewServer(opts Options) *Server {
	if opts.Channel == nil {
		opts.Channel = DefaultChannelConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		edits:        opts.Edits,
		hub:          opts.Hub,
		chunks:       opts.Chunks,
		positions:    opts.Positions,
		cfg:          opts.Channel,
		metrics:      opts.Metrics,
		logger:       logging.GetNetworkLogger(),
		sessions:     make(map[string]*Session),
		participants: make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ListenKCP starts accepting KCP sessions on addr.
func (srv *Server) ListenKCP(addr string) error {
	l, err := ListenKCP(addr)
	if err != nil {
		return err
	}
	srv.kcpListener = l
	srv.wg.Add(1)
	go srv.acceptLoop(l)
	srv.logger.Info("🚀 KCP listener on %s", l.Addr())
	return nil
}

func (srv *Server) acceptLoop(l *kcp.Listener) {
	defer srv.wg.Done()
	for {
		conn, err := l.AcceptKCP()
		if err != nil {
			if srv.ctx.Err() != nil {
				return
			}
			srv.logger.Error("Failed to accept connection: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		srv.spawn(NewKCPChannel(conn, srv.cfg))
	}
}

func (srv *Server) spawn(ch NetChannel) {
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		if err := srv.Serve(srv.ctx, ch); err != nil && !errors.Is(err, ErrHandshake) {
			srv.logger.Warn("session from %s ended: %v", ch.RemoteAddr(), err)
		}
	}()
}

// WebSocketHandler upgrades requests and serves a session on each.
func (srv *Server) WebSocketHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			srv.logger.Debug("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		ch := NewWebSocketChannel(conn, srv.cfg)
		srv.wg.Add(1)
		defer srv.wg.Done()
		if err := srv.Serve(srv.ctx, ch); err != nil && !errors.Is(err, ErrHandshake) {
			srv.logger.Warn("session from %s ended: %v", ch.RemoteAddr(), err)
		}
	}
}

// ListenWebSocket serves WebSocket sessions on addr at /ws.
func (srv *Server) ListenWebSocket(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.WebSocketHandler())
	srv.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("websocket server: %v", err)
		}
	}()
	srv.logger.Info("🚀 WebSocket listener on %s/ws", ln.Addr())
	return nil
}

// Sessions returns the number of open sessions.
func (srv *Server) Sessions() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Session looks up the session of a participant.
func (srv *Server) Session(participant string) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	id, ok := srv.participants[participant]
	if !ok {
		return nil, false
	}
	return srv.sessions[id], true
}

// Stop closes the listeners and every session, then waits for them.
func (srv *Server) Stop() error {
	srv.cancel()

	var errs []error
	if srv.kcpListener != nil {
		errs = append(errs, srv.kcpListener.Close())
	}
	if srv.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, srv.httpServer.Shutdown(ctx))
		cancel()
	}

	srv.mu.RLock()
	for _, sess := range srv.sessions {
		_ = sess.ch.Close()
	}
	srv.mu.RUnlock()

	srv.wg.Wait()
	srv.logger.Info("🛑 network server stopped")
	return errors.Join(errs...)
}
