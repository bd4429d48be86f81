package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/wsconduit/internal/limiter"
	"github.com/die-net/wsconduit/internal/relay"
	"github.com/die-net/wsconduit/internal/socks5"
	"github.com/die-net/wsconduit/internal/status"
)

// Connector opens the outbound connection for a handshake's request.
type Connector interface {
	Connect(ctx context.Context, addr socks5.AddressSpec) (net.Conn, error)
}

type Config struct {
	Connector Connector

	// NegotiationTimeout bounds the SOCKS5 handshake. Zero means no limit.
	NegotiationTimeout time.Duration
	Relay              relay.Config

	// Limiter and Monitor are optional.
	Limiter *limiter.SharedLimiter
	Monitor *status.Monitor

	Logger zerolog.Logger
	// Verbose raises per-session failures from debug to warn.
	Verbose bool
}

type Supervisor struct {
	cfg Config
}

func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Serve runs one session over tunnel and returns when both sides are closed.
// tunnel is always closed on return. Cancelling ctx closes the tunnel and any
// outbound connection.
func (s *Supervisor) Serve(ctx context.Context, tunnel net.Conn) error {
	sess := newSession(tunnel.RemoteAddr())
	log := s.cfg.Logger.With().Str("session", sess.ID.String()).Str("remote", sess.Remote).Logger()

	if m := s.cfg.Monitor; m != nil {
		m.Add(sess.ID, sess)
		defer func() { m.Remove(sess.ID, sess.Up(), sess.Down()) }()
	}
	defer sess.setState(Closed)

	tc := &onceConn{Conn: tunnel}
	defer tc.Close()
	stop := context.AfterFunc(ctx, func() { _ = tc.Close() })
	defer stop()

	if d := s.cfg.NegotiationTimeout; d > 0 {
		_ = tc.SetDeadline(time.Now().Add(d))
	}
	req, pending, err := socks5.Negotiate(tc)
	if err != nil {
		if socks5.IsRejection(err) {
			s.recordFailure(socks5.ReplyCode(err))
		}
		s.logFailure(log, "handshake failed", err)
		return fmt.Errorf("session %s: handshake: %w", sess.ID, err)
	}
	_ = tc.SetDeadline(time.Time{})

	target := req.Addr.String()
	sess.target.Store(&target)
	sess.setState(Connecting)
	log = log.With().Str("target", target).Logger()

	out, err := s.cfg.Connector.Connect(ctx, req.Addr)
	if err != nil {
		code := socks5.ReplyCode(err)
		s.recordFailure(code)
		_ = socks5.WriteReply(tc, code)
		s.logFailure(log, "connect failed", err)
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}
	oc := &onceConn{Conn: out}
	defer oc.Close()

	if err := socks5.WriteReply(tc, socks5.RepSucceeded); err != nil {
		s.logFailure(log, "write reply failed", err)
		return fmt.Errorf("session %s: write reply: %w", sess.ID, err)
	}

	if len(pending) > 0 {
		n, err := oc.Write(pending)
		sess.counters.Up.Add(int64(n))
		if err != nil {
			s.logFailure(log, "forward pending data failed", err)
			return fmt.Errorf("session %s: forward pending data: %w", sess.ID, err)
		}
	}

	sess.setState(Relaying)
	log.Debug().Msg("relaying")

	o := relay.Run(ctx, s.cfg.Limiter.WrapConn(tc), oc, s.cfg.Relay, &sess.counters)

	ev := log.Debug()
	if errors.Is(o.Err, relay.ErrRelayIO) {
		if s.cfg.Verbose {
			ev = log.Warn()
		}
		ev = ev.Err(o.Err)
	}
	ev.Int64("up", o.Up).Int64("down", o.Down).Dur("duration", time.Since(sess.Started)).Msg("session closed")

	if errors.Is(o.Err, relay.ErrRelayIO) {
		return fmt.Errorf("session %s: %w", sess.ID, o.Err)
	}
	return nil
}

func (s *Supervisor) recordFailure(code byte) {
	if s.cfg.Monitor != nil {
		s.cfg.Monitor.RecordFailure(code)
	}
}

func (s *Supervisor) logFailure(log zerolog.Logger, msg string, err error) {
	ev := log.Debug()
	if s.cfg.Verbose {
		ev = log.Warn()
	}
	ev.Err(err).Msg(msg)
}
