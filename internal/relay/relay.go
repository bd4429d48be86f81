// Package relay copies bytes between a tunnel and an outbound connection in
// both directions until both sides are done.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBufferSize is the per-direction copy buffer used when Config leaves
// BufferSize unset.
const DefaultBufferSize = 32 * 1024

// ErrRelayIO matches every *IOError.
var ErrRelayIO = errors.New("relay i/o error")

type Config struct {
	BufferSize int
	// HalfCloseTimeout, if positive, bounds how long one direction may keep
	// flowing after the other has finished.
	HalfCloseTimeout time.Duration
}

// Counters are updated as bytes are written. Up is tunnel to outbound, Down
// is outbound to tunnel.
type Counters struct {
	Up   atomic.Int64
	Down atomic.Int64
}

type Outcome struct {
	Up   int64
	Down int64
	// Err is nil for a clean finish, an *IOError for a transfer failure, or
	// the context's error when the relay was cancelled.
	Err error
}

// IOError is a read or write failure in one direction.
type IOError struct {
	Direction string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Direction, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrRelayIO
}

type closeWriter interface {
	CloseWrite() error
}

// Run pumps tunnel->outbound and outbound->tunnel concurrently. EOF from one
// source half-closes the opposite destination (or fully closes it when
// half-close is unsupported). The first failure or ctx cancellation closes
// both connections. Both connections are closed when Run returns.
func Run(ctx context.Context, tunnel, outbound net.Conn, cfg Config, c *Counters) Outcome {
	if c == nil {
		c = &Counters{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	pool := poolFor(size)

	var closed atomic.Bool
	var closeOnce sync.Once
	closeBoth := func() {
		closed.Store(true)
		closeOnce.Do(func() {
			_ = tunnel.Close()
			_ = outbound.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var (
		lingerMu sync.Mutex
		linger   *time.Timer
		finished int
	)
	pumpDone := func() {
		lingerMu.Lock()
		defer lingerMu.Unlock()
		finished++
		if finished == 1 && cfg.HalfCloseTimeout > 0 {
			linger = time.AfterFunc(cfg.HalfCloseTimeout, closeBoth)
		}
	}
	defer func() {
		lingerMu.Lock()
		if linger != nil {
			linger.Stop()
		}
		lingerMu.Unlock()
	}()

	pump := func(dir string, dst, src net.Conn, n *atomic.Int64) func() error {
		return func() error {
			defer pumpDone()

			buf := pool.Get()
			err := copyCounted(dst, src, *buf, n)
			pool.Put(buf)

			if err != nil {
				if closed.Load() {
					return nil
				}
				closeBoth()
				return &IOError{Direction: dir, Err: err}
			}

			if cw, ok := dst.(closeWriter); !ok || cw.CloseWrite() != nil {
				closeBoth()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(pump("upstream", outbound, tunnel, &c.Up))
	g.Go(pump("downstream", tunnel, outbound, &c.Down))
	err := g.Wait()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return Outcome{Up: c.Up.Load(), Down: c.Down.Load(), Err: err}
}

// copyCounted is io.CopyBuffer without the ReaderFrom/WriterTo shortcuts, so
// every byte passes through buf and is counted as soon as it is written.
func copyCounted(dst io.Writer, src io.Reader, buf []byte, n *atomic.Int64) error {
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				n.Add(int64(nw))
			}
			if werr != nil {
				return werr
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
