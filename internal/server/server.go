// Package server accepts WebSocket tunnels over HTTP(S) and hands each one to
// a session supervisor. It also serves a small JSON status API.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"

	"github.com/die-net/wsconduit/internal/status"
	"github.com/die-net/wsconduit/internal/wsconn"
)

// SessionServer runs one tunnel to completion.
type SessionServer interface {
	Serve(ctx context.Context, tunnel net.Conn) error
}

type Config struct {
	// Path accepts WebSocket upgrades.
	Path string
	// MaxSessions rejects upgrades with 503 once this many tunnels are open.
	// Zero is unlimited.
	MaxSessions int
	Conn        wsconn.Options

	// TLSCert and TLSKey enable wss:// from files.
	TLSCert string
	TLSKey  string
	// ACMEHosts enables wss:// with certificates obtained automatically.
	ACMEHosts    []string
	ACMECacheDir string
}

type Server struct {
	ctx      context.Context
	cfg      Config
	sessions SessionServer
	monitor  *status.Monitor
	log      zerolog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	active atomic.Int64

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New returns a Server whose sessions run under ctx. monitor may be nil.
func New(ctx context.Context, cfg Config, sessions SessionServer, monitor *status.Monitor, log zerolog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	s := &Server{
		ctx:      ctx,
		cfg:      cfg,
		sessions: sessions,
		monitor:  monitor,
		log:      log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// Tunnel clients are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleTunnel)
	if s.cfg.Path != "/" {
		mux.HandleFunc("GET /{$}", handleHello)
	}
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	return mux
}

// Serve accepts connections on ln until Close, with TLS when configured.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	switch {
	case s.cfg.TLSCert != "":
		err = s.httpSrv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
	case len(s.cfg.ACMEHosts) > 0:
		s.httpSrv.TLSConfig = s.acmeTLSConfig()
		err = s.httpSrv.ServeTLS(ln, "", "")
	default:
		err = s.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops accepting and waits for running sessions, which end when the
// context passed to New is cancelled.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.httpSrv.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acmeTLSConfig() *tls.Config {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.cfg.ACMEHosts...),
		Cache:      autocert.DirCache(s.cfg.ACMECacheDir),
	}
	return m.TLSConfig()
}

func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if limit := int64(s.cfg.MaxSessions); limit > 0 {
		if s.active.Add(1) > limit {
			s.active.Add(-1)
			http.Error(w, "too many sessions", http.StatusServiceUnavailable)
			return
		}
	} else {
		s.active.Add(1)
	}
	defer s.active.Add(-1)

	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := wsconn.New(ws, s.cfg.Conn)

	// A tunnel that goes away after its Close frame ends the session.
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = s.sessions.Serve(ctx, c)
}

// track registers a session unless Close has started.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, World!"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, s.monitor.Sessions())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("encode status")
	}
}
