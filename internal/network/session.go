package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/replication"
	"github.com/annel0/voxel-world/internal/vec"
)

// ErrHandshake is returned when a connection does not open with a valid
// InterestUpdate naming its participant.
var ErrHandshake = errors.New("handshake failed")

// Session is one connected replica. The first message on the channel must
// be an InterestUpdate; it names the participant and the initial interest
// centre.
type Session struct {
	ID          string
	Participant string

	ch     NetChannel
	peer   *replication.Peer
	srv    *Server
	logger *logging.Logger

	mu  sync.Mutex
	pos vec.Vec3
}

// Position returns the last interest centre reported by the replica.
func (s *Session) Position() vec.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (srv *Server) handshake(ctx context.Context, ch NetChannel) (*protocol.InterestUpdate, error) {
	hctx, cancel := context.WithTimeout(ctx, srv.cfg.HandshakeTimeout)
	defer cancel()

	msg, err := ch.Receive(hctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	hello, ok := msg.(*protocol.InterestUpdate)
	if !ok {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHandshake, protocol.MsgInterestUpdate, msg.Type())
	}
	if hello.Participant == "" {
		return nil, fmt.Errorf("%w: empty participant", ErrHandshake)
	}
	return hello, nil
}

// Serve runs a session on ch until the channel fails or ctx is done. The
// channel is closed on return.
func (srv *Server) Serve(ctx context.Context, ch NetChannel) error {
	defer ch.Close()

	hello, err := srv.handshake(ctx, ch)
	if err != nil {
		srv.metrics.handshakes.WithLabelValues("rejected").Inc()
		srv.logger.Warn("session from %s rejected: %v", ch.RemoteAddr(), err)
		return err
	}

	sess, err := srv.open(hello.Participant, ch)
	if err != nil {
		srv.metrics.handshakes.WithLabelValues("rejected").Inc()
		srv.logger.Warn("session from %s rejected: %v", ch.RemoteAddr(), err)
		return err
	}
	srv.metrics.handshakes.WithLabelValues("accepted").Inc()
	defer srv.close(sess)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.interest(sctx, srv.resumePosition(sctx, hello)); err != nil {
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop(sctx)
	}()

	err = sess.readLoop(sctx)
	cancel()
	<-writerDone
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// resumePosition returns the interest centre a session starts from. A hello
// at the origin means "wherever I left off" when a position is stored.
func (srv *Server) resumePosition(ctx context.Context, hello *protocol.InterestUpdate) vec.Vec3 {
	if hello.Pos != (vec.Vec3{}) || srv.positions == nil {
		return hello.Pos
	}
	saved, found, err := srv.positions.Load(ctx, hello.Participant)
	if err != nil {
		srv.logger.Warn("load position of %s: %v", hello.Participant, err)
		return hello.Pos
	}
	if !found {
		return hello.Pos
	}
	srv.logger.Debug("resuming %s at %v", hello.Participant, saved)
	return saved
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.srv.metrics.messagesIn.WithLabelValues(msg.Type().String()).Inc()
		if err := s.dispatch(ctx, msg); err != nil {
			s.srv.metrics.protocolErrors.Inc()
			s.logger.Warn("session %s (%s): %v", s.ID, s.Participant, err)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.EditRequest:
		m.Participant = s.Participant
		out := s.srv.edits.Handle(ctx, m)
		return s.send(ctx, out)
	case *protocol.InterestUpdate:
		return s.interest(ctx, m.Pos)
	case *protocol.ResyncRequest:
		return s.srv.hub.HandleResync(ctx, s.peer.ID, m)
	case *protocol.Ping:
		return s.send(ctx, &protocol.Pong{Nonce: m.Nonce})
	default:
		return fmt.Errorf("unexpected %s from replica", msg.Type())
	}
}

func (s *Session) interest(ctx context.Context, pos vec.Vec3) error {
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()

	if s.srv.chunks != nil {
		s.srv.chunks.UpdateParticipant(s.Participant, pos)
	}
	if s.srv.positions != nil {
		if err := s.srv.positions.Save(ctx, s.Participant, pos); err != nil {
			s.logger.Warn("save position of %s: %v", s.Participant, err)
		}
	}
	n, err := s.srv.hub.UpdateInterest(ctx, s.peer.ID, pos)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("queued %d snapshots for %s", n, s.Participant)
	}
	return nil
}

func (s *Session) send(ctx context.Context, msg protocol.Message) error {
	if err := s.ch.Send(ctx, msg); err != nil {
		return err
	}
	s.srv.metrics.messagesOut.WithLabelValues(msg.Type().String()).Inc()
	return nil
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.peer.Outbox():
			if err := s.send(ctx, msg); err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("session %s write: %v", s.ID, err)
				}
				return
			}
		}
	}
}

func (srv *Server) open(participant string, ch NetChannel) (*Session, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, busy := srv.participants[participant]; busy {
		return nil, fmt.Errorf("%w: %s already connected", ErrHandshake, participant)
	}
	peer := srv.hub.Join(participant)
	sess := &Session{
		ID:          peer.ID,
		Participant: participant,
		ch:          ch,
		peer:        peer,
		srv:         srv,
		logger:      srv.logger,
	}
	srv.sessions[sess.ID] = sess
	srv.participants[participant] = sess.ID
	srv.metrics.sessions.WithLabelValues(ch.Type().String()).Inc()
	srv.logger.Info("🔗 %s session %s for %s from %s", ch.Type(), sess.ID, participant, ch.RemoteAddr())
	return sess, nil
}

func (srv *Server) close(sess *Session) {
	srv.mu.Lock()
	delete(srv.sessions, sess.ID)
	delete(srv.participants, sess.Participant)
	srv.mu.Unlock()

	srv.hub.Leave(sess.peer.ID)
	if srv.chunks != nil {
		srv.chunks.RemoveParticipant(sess.Participant)
	}
	if srv.positions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.positions.Save(ctx, sess.Participant, sess.Position()); err != nil {
			srv.logger.Warn("save position of %s: %v", sess.Participant, err)
		}
		cancel()
	}
	srv.metrics.sessions.WithLabelValues(sess.ch.Type().String()).Dec()
	srv.logger.Info("👋 session %s for %s closed", sess.ID, sess.Participant)
}
