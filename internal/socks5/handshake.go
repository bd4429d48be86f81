package socks5

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// State is the position of an Engine in the server handshake.
type State int

const (
	AwaitingMethods State = iota
	AwaitingRequest
	Established
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingMethods:
		return "awaiting-methods"
	case AwaitingRequest:
		return "awaiting-request"
	case Established:
		return "established"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is the outcome of a successful handshake.
type Request struct {
	Command byte
	Addr    AddressSpec
}

// Engine is a resumable SOCKS5 server handshake. It is fed raw bytes from the
// client and returns the bytes that must be sent back; it never performs I/O
// itself, so partial deliveries simply leave it waiting for more input.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	state State
	buf   []byte
	req   *Request
}

// NewEngine returns an Engine waiting for the method negotiation request.
func NewEngine() *Engine {
	return &Engine{state: AwaitingMethods}
}

// State returns the current handshake state.
func (e *Engine) State() State {
	return e.state
}

// Request returns the parsed request once the engine is Established.
func (e *Engine) Request() *Request {
	return e.req
}

// Pending returns bytes received after the request. They belong to the
// relayed stream and must be forwarded to the target first.
func (e *Engine) Pending() []byte {
	if e.state != Established || len(e.buf) == 0 {
		return nil
	}
	return e.buf
}

// Feed appends p to the buffered input and advances the state machine as far
// as the buffered bytes allow. The returned reply must be written to the
// client even when err is non-nil; a non-nil err always leaves the engine
// Rejected.
//
// No reply is produced for a successful request: the CONNECT reply depends on
// the outcome of dialing the target.
func (e *Engine) Feed(p []byte) ([]byte, error) {
	switch e.state {
	case Rejected:
		return nil, ErrHandshakeDone
	case Established:
		e.buf = append(e.buf, p...)
		return nil, nil
	}

	e.buf = append(e.buf, p...)

	var out []byte
	for {
		switch e.state {
		case AwaitingMethods:
			n, reply, err := parseMethods(e.buf)
			out = append(out, reply...)
			if err != nil {
				return out, e.reject(err)
			}
			if n == 0 {
				return out, nil
			}
			e.consume(n)
			e.state = AwaitingRequest

		case AwaitingRequest:
			n, req, err := parseRequest(e.buf)
			if err != nil {
				return append(out, Reply(ReplyCode(err))...), e.reject(err)
			}
			if n == 0 {
				return out, nil
			}
			e.consume(n)
			e.req = req
			e.state = Established
			return out, nil

		default:
			return out, nil
		}
	}
}

func (e *Engine) consume(n int) {
	rest := len(e.buf) - n
	copy(e.buf, e.buf[n:])
	e.buf = e.buf[:rest]
}

func (e *Engine) reject(err error) error {
	e.state = Rejected
	e.buf = nil
	return err
}

// parseMethods parses the method negotiation request:
//
//	+-----+----------+----------+
//	| VER | NMETHODS | METHODS  |
//	+-----+----------+----------+
//	|  1  |    1     | 1 to 255 |
//
// It returns the number of bytes consumed (zero while incomplete) and the
// negotiation reply.
func parseMethods(b []byte) (int, []byte, error) {
	if len(b) < 1 {
		return 0, nil, nil
	}
	if b[0] != Version {
		// Not a SOCKS5 client; there is no reply it would understand.
		return 0, nil, fmt.Errorf("%w: greeting version %#x", ErrVersion, b[0])
	}
	if len(b) < 2 {
		return 0, nil, nil
	}
	n := 2 + int(b[1])
	if len(b) < n {
		return 0, nil, nil
	}

	if !slices.Contains(b[2:n], MethodNoAuth) {
		return n, NegotiationReply(MethodNoAcceptableMethods), ErrNoAcceptableMethods
	}
	return n, NegotiationReply(MethodNoAuth), nil
}

// parseRequest parses a request:
//
//	+-----+-----+-------+------+----------+----------+
//	| VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+-----+-----+-------+------+----------+----------+
//	|  1  |  1  | X'00' |  1   | Variable |    2     |
//
// It returns the number of bytes consumed, zero while incomplete.
func parseRequest(b []byte) (int, *Request, error) {
	if len(b) < 1 {
		return 0, nil, nil
	}
	if b[0] != Version {
		return 0, nil, fmt.Errorf("%w: request version %#x", ErrVersion, b[0])
	}
	if len(b) < 2 {
		return 0, nil, nil
	}
	cmd := b[1]
	if cmd != CmdConnect {
		return 0, nil, fmt.Errorf("%w: %#x", ErrCommandNotSupported, cmd)
	}
	if len(b) < 4 {
		return 0, nil, nil
	}

	al, err := addrLen(b[3:])
	if err != nil {
		return 0, nil, err
	}
	if al == 0 || len(b) < 3+al {
		return 0, nil, nil
	}

	return 3 + al, &Request{Command: cmd, Addr: decodeAddr(b[3 : 3+al])}, nil
}

// Negotiate runs the server handshake over rw, writing negotiation and
// rejection replies as needed. On success it returns the request and any
// bytes the client sent after it; the caller owns the CONNECT reply.
func Negotiate(rw io.ReadWriter) (*Request, []byte, error) {
	e := NewEngine()
	buf := make([]byte, maxHandshakeSize)

	for {
		n, rerr := rw.Read(buf)
		if n > 0 {
			reply, err := e.Feed(buf[:n])
			if len(reply) > 0 {
				if _, werr := rw.Write(reply); werr != nil && err == nil {
					return nil, nil, fmt.Errorf("write handshake reply: %w", werr)
				}
			}
			if err != nil {
				return nil, nil, err
			}
			if e.State() == Established {
				pending := append([]byte(nil), e.Pending()...)
				return e.Request(), pending, nil
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			return nil, nil, fmt.Errorf("read handshake (%s): %w", e.State(), rerr)
		}
	}
}
