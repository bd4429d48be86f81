// Package status keeps process-wide tunnel counters and the registry of live
// sessions, and reports them as JSON snapshots and periodic log lines.
package status

import (
	"context"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/wsconduit/internal/limiter"
)

// SessionInfo is the JSON shape of one live session.
type SessionInfo struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Remote  string    `json:"remote"`
	Target  string    `json:"target,omitempty"`
	Started time.Time `json:"started"`
	Up      int64     `json:"up_bytes"`
	Down    int64     `json:"down_bytes"`
}

// Tracked is anything the monitor can list as a live session.
type Tracked interface {
	Info() SessionInfo
}

// Snapshot is the JSON shape of the monitor's counters.
type Snapshot struct {
	Uptime         string           `json:"uptime"`
	ActiveSessions int64            `json:"active_sessions"`
	TotalSessions  int64            `json:"total_sessions"`
	UpBytes        int64            `json:"up_bytes"`
	DownBytes      int64            `json:"down_bytes"`
	Failures       map[string]int64 `json:"failures"`
	RateLimitBps   int64            `json:"rate_limit_bps,omitempty"`
	ActiveRateBps  int64            `json:"active_rate_bps,omitempty"`
	Goroutines     int              `json:"goroutines"`
}

type Monitor struct {
	started time.Time
	limiter *limiter.SharedLimiter

	active atomic.Int64
	total  atomic.Int64
	up     atomic.Int64
	down   atomic.Int64

	mu       sync.Mutex
	failures map[byte]int64
	sessions map[uuid.UUID]Tracked
}

// NewMonitor returns an empty monitor. l may be nil.
func NewMonitor(l *limiter.SharedLimiter) *Monitor {
	return &Monitor{
		started:  time.Now(),
		limiter:  l,
		failures: make(map[byte]int64),
		sessions: make(map[uuid.UUID]Tracked),
	}
}

// Add registers a live session.
func (m *Monitor) Add(id uuid.UUID, t Tracked) {
	m.active.Add(1)
	m.total.Add(1)

	m.mu.Lock()
	m.sessions[id] = t
	m.mu.Unlock()
}

// Remove unregisters a session and folds its byte counts into the totals.
func (m *Monitor) Remove(id uuid.UUID, up, down int64) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.active.Add(-1)
	m.up.Add(up)
	m.down.Add(down)
}

// RecordFailure counts a session that ended with a non-success SOCKS5 reply
// code (0xFF for a rejected method negotiation).
func (m *Monitor) RecordFailure(code byte) {
	m.mu.Lock()
	m.failures[code]++
	m.mu.Unlock()
}

// Active is the number of registered sessions.
func (m *Monitor) Active() int64 {
	return m.active.Load()
}

func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		ActiveSessions: m.active.Load(),
		TotalSessions:  m.total.Load(),
		UpBytes:        m.up.Load(),
		DownBytes:      m.down.Load(),
		Failures:       make(map[string]int64),
		RateLimitBps:   m.limiter.MaxRate() * 8,
		ActiveRateBps:  m.limiter.ActiveRate() * 8,
		Goroutines:     runtime.NumGoroutine(),
	}

	m.mu.Lock()
	for code, n := range m.failures {
		s.Failures[failureName(code)] = n
	}
	m.mu.Unlock()

	return s
}

// Sessions lists live sessions, oldest first.
func (m *Monitor) Sessions() []SessionInfo {
	m.mu.Lock()
	tracked := make([]Tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		tracked = append(tracked, t)
	}
	m.mu.Unlock()

	list := make([]SessionInfo, 0, len(tracked))
	for _, t := range tracked {
		list = append(list, t.Info())
	}
	slices.SortFunc(list, func(a, b SessionInfo) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// Run logs a summary every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, log zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		s := m.Snapshot()
		ev := log.Info().
			Int64("active", s.ActiveSessions).
			Int64("total", s.TotalSessions).
			Int64("up_bytes", s.UpBytes).
			Int64("down_bytes", s.DownBytes).
			Int("goroutines", s.Goroutines).
			Uint64("heap_mb", ms.HeapAlloc/1024/1024)
		if s.RateLimitBps > 0 {
			ev = ev.Float64("rate_mbps", float64(s.ActiveRateBps)/1e6)
		}
		ev.Msg("monitor")
	}
}

func failureName(code byte) string {
	switch code {
	case 0x01:
		return "general_failure"
	case 0x02:
		return "not_allowed"
	case 0x03:
		return "network_unreachable"
	case 0x04:
		return "host_unreachable"
	case 0x05:
		return "connection_refused"
	case 0x06:
		return "ttl_expired"
	case 0x07:
		return "command_not_supported"
	case 0x08:
		return "address_type_not_supported"
	case 0xFF:
		return "no_acceptable_methods"
	default:
		return "other"
	}
}
