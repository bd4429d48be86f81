package wsconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWriteClosed is returned by Write after CloseWrite.
var ErrWriteClosed = errors.New("wsconn: write side closed")

const defaultControlTimeout = 5 * time.Second

// Options tunes a Conn.
type Options struct {
	// PingInterval sends a ping control frame at this interval while the
	// connection is open. Zero disables pings.
	PingInterval time.Duration

	// ControlTimeout bounds writing ping and close frames.
	ControlTimeout time.Duration

	// ReadLimit caps the size of a single incoming message. Zero leaves the
	// library default (unlimited).
	ReadLimit int64
}

// Conn is a net.Conn over a WebSocket connection. One goroutine may read
// while another writes.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	readMu  sync.Mutex
	r       io.Reader
	readErr error

	writeMu     sync.Mutex
	writeClosed bool

	watchOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ net.Conn = (*Conn)(nil)

// New wraps ws. The peer's Close frame is not echoed automatically; it is
// answered by CloseWrite once the outgoing direction has drained.
func New(ws *websocket.Conn, opts Options) *Conn {
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = defaultControlTimeout
	}
	c := &Conn{ws: ws, opts: opts, done: make(chan struct{})}

	ws.SetCloseHandler(func(int, string) error { return nil })
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	if opts.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

// Read reads tunnel bytes, crossing message boundaries as needed. A peer
// Close frame with a normal status reads as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.readErr != nil {
			return 0, c.readErr
		}
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				// gorilla panics on repeated reads after a failure, so the
				// first error is sticky.
				c.readErr = readError(err)
				if c.readErr == io.EOF {
					c.watchOnce.Do(func() { go c.watchPeer() })
				}
				return 0, c.readErr
			}
			c.r, err = Decode(mt, r)
			if err != nil {
				c.readErr = err
				return 0, err
			}
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.readErr = readError(err)
			return n, c.readErr
		}
		return n, nil
	}
}

func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return fmt.Errorf("websocket read: %w", err)
}

// Write sends p as a single binary message. It blocks until the frame has been
// handed to the network.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeClosed {
		return 0, ErrWriteClosed
	}
	if err := c.ws.WriteMessage(Encode(p)); err != nil {
		return 0, fmt.Errorf("websocket write: %w", err)
	}
	return len(p), nil
}

// CloseWrite sends a normal Close frame. Reads continue until the peer's own
// Close frame arrives.
func (c *Conn) CloseWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sendClose()
}

// sendClose must be called with writeMu held.
func (c *Conn) sendClose() error {
	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.ControlTimeout)); err != nil {
		return fmt.Errorf("websocket close frame: %w", err)
	}
	return nil
}

// Close tears down the connection. A Close frame is attempted first unless a
// writer is currently blocked. Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.writeMu.TryLock() {
			_ = c.sendClose()
			c.writeMu.Unlock()
		}
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has run. After the peer's Close frame, losing the
// underlying connection closes the Conn.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// watchPeer keeps reading the raw connection after the peer's Close frame,
// since gorilla will not read again. Any read error means the peer is gone.
func (c *Conn) watchPeer() {
	nc := c.ws.UnderlyingConn()
	buf := make([]byte, 512)
	for {
		if _, err := nc.Read(buf); err != nil {
			_ = c.Close()
			return
		}
	}
}

func (c *Conn) pingLoop() {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.ControlTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
