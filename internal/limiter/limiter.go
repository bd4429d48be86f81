// Package limiter caps the aggregate bandwidth of all relayed streams with a
// single token bucket and reports the recent transfer rate.
package limiter

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

// rateWindow is the number of one-second slots averaged by ActiveRate.
const rateWindow = 5

type slot struct {
	bytes atomic.Int64
	sec   atomic.Int64
}

// SharedLimiter is one bandwidth budget shared by every wrapped connection.
// A nil *SharedLimiter wraps nothing and reports zero.
type SharedLimiter struct {
	bucket  *ratelimit.Bucket
	maxRate int64

	slots   [rateWindow]slot
	current atomic.Int64
	rotated atomic.Int64
}

// New returns a limiter allowing bytesPerSec across all wrapped connections,
// with a burst of one second's worth. bytesPerSec <= 0 returns nil.
func New(bytesPerSec int64) *SharedLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	now := time.Now().Unix()
	l := &SharedLimiter{
		bucket:  ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec),
		maxRate: bytesPerSec,
	}
	l.rotated.Store(now)
	for i := range l.slots {
		l.slots[i].sec.Store(now)
	}
	return l
}

// WrapConn returns c throttled by the shared budget. Bytes are counted in both
// directions.
func (l *SharedLimiter) WrapConn(c net.Conn) net.Conn {
	if l == nil {
		return c
	}
	return &throttledConn{Conn: c, limiter: l, done: make(chan struct{})}
}

// MaxRate is the configured budget in bytes per second.
func (l *SharedLimiter) MaxRate() int64 {
	if l == nil {
		return 0
	}
	return l.maxRate
}

// ActiveRate is the average bytes per second over the last few seconds.
func (l *SharedLimiter) ActiveRate() int64 {
	if l == nil {
		return 0
	}

	now := time.Now().Unix()
	cutoff := now - rateWindow

	var total int64
	oldest := now
	for i := range l.slots {
		sec := l.slots[i].sec.Load()
		if sec < cutoff {
			continue
		}
		total += l.slots[i].bytes.Load()
		oldest = min(oldest, sec)
	}

	if span := now - oldest; span > 0 {
		return total / span
	}
	return 0
}

func (l *SharedLimiter) record(n int64) {
	now := time.Now().Unix()
	last := l.rotated.Load()
	if now > last && l.rotated.CompareAndSwap(last, now) {
		next := (l.current.Load() + 1) % rateWindow
		l.slots[next].bytes.Store(0)
		l.slots[next].sec.Store(now)
		l.current.Store(next)
	}
	l.slots[l.current.Load()].bytes.Add(n)
}

type throttledConn struct {
	net.Conn
	limiter *SharedLimiter

	closeOnce sync.Once
	done      chan struct{}
}

// wait blocks until n bytes fit the budget or the conn is closed.
func (t *throttledConn) wait(n int64) error {
	d := t.limiter.bucket.Take(n)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.done:
		return net.ErrClosed
	}
}

func (t *throttledConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		if werr := t.wait(int64(n)); werr != nil {
			return n, werr
		}
		t.limiter.record(int64(n))
	}
	return n, err
}

func (t *throttledConn) Write(p []byte) (int, error) {
	if err := t.wait(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := t.Conn.Write(p)
	if n > 0 {
		t.limiter.record(int64(n))
	}
	return n, err
}

// Close releases any Read or Write waiting on the budget.
func (t *throttledConn) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return t.Conn.Close()
}

// CloseWrite half-closes the wrapped connection when it supports that.
func (t *throttledConn) CloseWrite() error {
	if cw, ok := t.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
