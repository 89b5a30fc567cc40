package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkaancelik/chatwire/internal/protocol"
	"github.com/mkaancelik/chatwire/internal/registry"
)

// quitBody is the system envelope body a client sends to disconnect cleanly.
const quitBody = "quit"

// session is one client connection. It implements registry.Peer so the
// router can deliver to it from any goroutine; writeMu serializes frames
// onto the wire.
type session struct {
	id     string
	conn   net.Conn
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	nickname string
	started  time.Time
}

func newSession(conn net.Conn, cfg Config) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger.With("session", id, "remote", conn.RemoteAddr().String()),
	}
}

// Deliver implements registry.Peer. It blocks while the registration
// handshake writes the ack and mailbox backlog, so queued messages always
// precede live traffic.
func (s *session) Deliver(env protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(env)
}

// Close implements registry.Peer. Closing the connection unblocks the read
// loop, which runs the normal cleanup path.
func (s *session) Close() error {
	return s.conn.Close()
}

func (s *session) writeLocked(env protocol.Envelope) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return protocol.Write(s.conn, env)
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close() //nolint:errcheck // best-effort cleanup

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	s.logger.Debug("session accepted")

	if err := s.negotiate(); err != nil {
		s.logger.Warn("nickname negotiation failed", "error", err)
		return
	}
	s.started = time.Now()
	s.logger = s.logger.With("nickname", s.nickname)
	s.logger.Info("session registered")

	s.cfg.Router.UserJoined(s.nickname)

	defer func() {
		s.cfg.Registry.Unregister(s.nickname)
		s.cfg.Router.UserLeft(s.nickname, time.Since(s.started))
		s.logger.Info("session closed", "connected", time.Since(s.started).Round(time.Millisecond))
	}()

	s.readLoop()
}

// negotiate reads the nickname request and completes registration. The ack
// and any queued offline messages are written while writeMu is held, so a
// concurrent broadcast cannot slip in between.
func (s *session) negotiate() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.NegotiateTimeout)); err != nil {
		return err
	}
	env, err := protocol.Read(s.conn)
	if err != nil {
		if protocol.IsDecodeError(err) && !isTimeout(err) && !errors.Is(err, net.ErrClosed) {
			s.cfg.Metrics.DecodeError()
			_ = s.Deliver(protocol.Envelope{Kind: protocol.KindError, Body: err.Error()})
		}
		return err
	}
	if env.Kind != protocol.KindNickRequest {
		_ = s.Deliver(protocol.Envelope{
			Kind: protocol.KindError,
			Body: fmt.Sprintf("expected nickname request, got %q", env.Kind),
		})
		return fmt.Errorf("first frame was %q", env.Kind)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	assigned, err := s.cfg.Registry.Register(env.Sender, s)
	if err != nil {
		_ = s.writeLocked(protocol.Envelope{Kind: protocol.KindError, Body: err.Error()})
		return fmt.Errorf("register %q: %w", env.Sender, err)
	}
	s.nickname = assigned

	if err := s.writeLocked(protocol.Envelope{
		Kind:      protocol.KindNickAck,
		Recipient: assigned,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		s.cfg.Registry.Unregister(assigned)
		return fmt.Errorf("write ack: %w", err)
	}

	s.cfg.Router.DrainMailbox(assigned, drainPeer{s})
	return nil
}

func (s *session) readLoop() {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		env, err := protocol.Read(s.conn)
		if err != nil {
			// Deadline and teardown errors surface wrapped in a decode
			// error, so classify them first.
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Debug("client disconnected")
			case isTimeout(err):
				s.logger.Info("idle timeout, closing session")
			case errors.Is(err, net.ErrClosed):
				s.logger.Debug("session connection closed")
			case protocol.IsDecodeError(err):
				s.cfg.Metrics.DecodeError()
				s.logger.Warn("malformed frame, closing session", "error", err)
				_ = s.Deliver(protocol.Envelope{Kind: protocol.KindError, Body: err.Error()})
			default:
				s.logger.Debug("read failed", "error", err)
			}
			return
		}

		if env.Kind == protocol.KindSystem && env.Body == quitBody {
			s.logger.Debug("client quit")
			return
		}

		s.cfg.Router.Route(s.nickname, s, env)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// drainPeer writes through an already-held writeMu. It exists only for the
// mailbox drain inside negotiate.
type drainPeer struct{ s *session }

func (p drainPeer) Deliver(env protocol.Envelope) error { return p.s.writeLocked(env) }
func (p drainPeer) Close() error                        { return p.s.conn.Close() }

var _ registry.Peer = (*session)(nil)
var _ registry.Peer = drainPeer{}
