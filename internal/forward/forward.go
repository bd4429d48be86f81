// Package forward is the client end of the tunnel: every local TCP connection
// is carried to the tunnel server over its own WebSocket, so ordinary SOCKS5
// clients can point at a local port.
package forward

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/die-net/wsconduit/internal/relay"
	"github.com/die-net/wsconduit/internal/wsconn"
)

type Config struct {
	// URL is the tunnel server, ws:// or wss://.
	URL   string
	Dial  wsconn.DialOptions
	Relay relay.Config
}

type Forwarder struct {
	ctx context.Context
	cfg Config
	log zerolog.Logger
	wg  sync.WaitGroup
}

// New returns a Forwarder whose connections run under ctx.
func New(ctx context.Context, cfg Config, log zerolog.Logger) *Forwarder {
	return &Forwarder{ctx: ctx, cfg: cfg, log: log}
}

// Serve accepts on ln until it is closed. Closing ln after ctx is cancelled
// is a clean shutdown.
func (f *Forwarder) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if f.ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handleConn(c)
		}()
	}
}

// Wait blocks until every forwarded connection has finished.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) handleConn(c net.Conn) {
	defer c.Close()

	log := f.log.With().Str("client", c.RemoteAddr().String()).Logger()

	ws, err := wsconn.Dial(f.ctx, f.cfg.URL, f.cfg.Dial)
	if err != nil {
		log.Warn().Err(err).Msg("tunnel dial failed")
		return
	}

	o := relay.Run(f.ctx, c, ws, f.cfg.Relay, nil)
	ev := log.Debug()
	if errors.Is(o.Err, relay.ErrRelayIO) {
		ev = ev.Err(o.Err)
	}
	ev.Int64("up", o.Up).Int64("down", o.Down).Msg("forwarded connection closed")
}
