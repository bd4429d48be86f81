package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/die-net/wsconduit/internal/socks5"
)

// ErrNotAllowed is wrapped by connect errors for destinations outside the
// ruleset.
var ErrNotAllowed = errors.New("destination not allowed")

// Kind classifies a connect failure.
type Kind int

const (
	Failed Kind = iota
	ResolutionFailed
	Timeout
	Refused
	NetworkUnreachable
	HostUnreachable
	NotAllowed
)

func (k Kind) String() string {
	switch k {
	case ResolutionFailed:
		return "resolution failed"
	case Timeout:
		return "timeout"
	case Refused:
		return "connection refused"
	case NetworkUnreachable:
		return "network unreachable"
	case HostUnreachable:
		return "host unreachable"
	case NotAllowed:
		return "not allowed"
	default:
		return "failed"
	}
}

// ConnectError is returned by Connector.Connect.
type ConnectError struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReplyCode maps the failure onto the SOCKS5 reply sent to the client.
func (e *ConnectError) ReplyCode() byte {
	switch e.Kind {
	case ResolutionFailed, Timeout, HostUnreachable:
		return socks5.RepHostUnreachable
	case Refused:
		return socks5.RepConnectionRefused
	case NetworkUnreachable:
		return socks5.RepNetworkUnreachable
	case NotAllowed:
		return socks5.RepNotAllowed
	default:
		return socks5.RepGeneralFailure
	}
}

// Connector makes the single outbound connection attempt of a session.
type Connector struct {
	dialer  Dialer
	rules   *Ruleset
	timeout time.Duration
}

func NewConnector(d Dialer, rules *Ruleset, timeout time.Duration) *Connector {
	return &Connector{dialer: d, rules: rules, timeout: timeout}
}

// Connect dials addr. Every failure is a *ConnectError.
func (c *Connector) Connect(ctx context.Context, addr socks5.AddressSpec) (net.Conn, error) {
	if !c.rules.Allowed(addr.Host()) {
		return nil, &ConnectError{Kind: NotAllowed, Addr: addr.String(), Err: ErrNotAllowed}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		return nil, &ConnectError{Kind: classify(err), Addr: addr.String(), Err: err}
	}
	return conn, nil
}

func classify(err error) Kind {
	var re *ResolveError
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.As(err, &re), errors.As(err, &dnsErr):
		return ResolutionFailed
	case errors.Is(err, syscall.ECONNREFUSED):
		return Refused
	case errors.Is(err, syscall.ENETUNREACH):
		return NetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return HostUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return Timeout
	default:
		return Failed
	}
}
