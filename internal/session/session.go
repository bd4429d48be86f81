// Package session drives one tunnel from the SOCKS5 handshake through the
// outbound connect to the relay, and owns both connections until they close.
package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/wsconduit/internal/relay"
	"github.com/die-net/wsconduit/internal/status"
)

// State only moves forward.
type State int32

const (
	Handshaking State = iota
	Connecting
	Relaying
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connecting:
		return "connecting"
	case Relaying:
		return "relaying"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one tunnel's lifetime record. It is safe to read from other
// goroutines while the session runs.
type Session struct {
	ID      uuid.UUID
	Remote  string
	Started time.Time

	state    atomic.Int32
	target   atomic.Pointer[string]
	counters relay.Counters
}

func newSession(remote net.Addr) *Session {
	s := &Session{ID: uuid.New(), Started: time.Now()}
	if remote != nil {
		s.Remote = remote.String()
	}
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Target is the requested destination, empty until the handshake completes.
func (s *Session) Target() string {
	if t := s.target.Load(); t != nil {
		return *t
	}
	return ""
}

// Up is bytes relayed from the client to the target so far.
func (s *Session) Up() int64 {
	return s.counters.Up.Load()
}

// Down is bytes relayed from the target to the client so far.
func (s *Session) Down() int64 {
	return s.counters.Down.Load()
}

func (s *Session) Info() status.SessionInfo {
	return status.SessionInfo{
		ID:      s.ID.String(),
		State:   s.State().String(),
		Remote:  s.Remote,
		Target:  s.Target(),
		Started: s.Started,
		Up:      s.Up(),
		Down:    s.Down(),
	}
}

// onceConn makes Close idempotent and keeps CloseWrite reachable.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}

func (c *onceConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
