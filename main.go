package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/wsconduit/internal/config"
	"github.com/die-net/wsconduit/internal/conn"
	"github.com/die-net/wsconduit/internal/dialer"
	"github.com/die-net/wsconduit/internal/forward"
	"github.com/die-net/wsconduit/internal/limiter"
	"github.com/die-net/wsconduit/internal/logging"
	"github.com/die-net/wsconduit/internal/relay"
	"github.com/die-net/wsconduit/internal/server"
	"github.com/die-net/wsconduit/internal/session"
	"github.com/die-net/wsconduit/internal/status"
	"github.com/die-net/wsconduit/internal/wsconn"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()

	configPath := config.PathFromArgs(os.Args[1:])
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return fmt.Errorf("invalid --config: %w", err)
		}
		cfg.SetDefaults()
	}

	pflag.String("config", configPath, "YAML configuration file; flags override its values")
	cfg.BindFlags(pflag.CommandLine)
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, logCloser, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	defer logCloser.Close()

	ka, err := cfg.KeepAlive()
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	relayCfg := relay.Config{
		BufferSize:       int(cfg.Relay.BufferSize),
		HalfCloseTimeout: cfg.Relay.HalfCloseTimeout.Duration(),
	}
	lim := limiter.New(int64(cfg.Relay.BandwidthLimit))
	monitor := status.NewMonitor(lim)

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := conn.ListenTCP(ctx, "tcp", cfg.DebugListen, ka)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", cfg.DebugListen).Msg("debug listening")
	}

	if cfg.Server.Listen != "" {
		sup, err := newSupervisor(cfg, relayCfg, lim, monitor, log)
		if err != nil {
			return err
		}

		ln, err := conn.ListenTCP(ctx, "tcp", cfg.Server.Listen, ka)
		if err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
		srv := server.New(ctx, server.Config{
			Path:        cfg.Server.Path,
			MaxSessions: cfg.Server.MaxSessions,
			Conn: wsconn.Options{
				PingInterval: cfg.Server.PingInterval.Duration(),
				ReadLimit:    int64(cfg.Server.ReadLimit),
			},
			TLSCert:      cfg.Server.TLSCert,
			TLSKey:       cfg.Server.TLSKey,
			ACMEHosts:    cfg.Server.ACMEHosts,
			ACMECacheDir: cfg.Server.ACMECacheDir,
		}, sup, monitor, log)
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("server serve: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", cfg.Server.Listen).Str("path", cfg.Server.Path).Str("upstream", cfg.Dial.Upstream).Msg("tunnel server listening")

		g.Go(func() error {
			monitor.Run(ctx, log, cfg.MonitorInterval.Duration())
			return nil
		})
	}

	if cfg.Forward.Listen != "" {
		ln, err := conn.ListenTCP(ctx, "tcp", cfg.Forward.Listen, ka)
		if err != nil {
			return fmt.Errorf("forward listen: %w", err)
		}

		dialOpts := wsconn.DialOptions{
			HandshakeTimeout: cfg.Forward.HandshakeTimeout.Duration(),
			Conn: wsconn.Options{
				PingInterval: cfg.Server.PingInterval.Duration(),
				ReadLimit:    int64(cfg.Server.ReadLimit),
			},
		}
		if cfg.Forward.InsecureSkipVerify {
			dialOpts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Explicitly requested.
		}

		fwd := forward.New(ctx, forward.Config{URL: cfg.Forward.URL, Dial: dialOpts, Relay: relayCfg}, log)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			err := fwd.Serve(ln)
			fwd.Wait()
			if err != nil {
				return fmt.Errorf("forward serve: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", cfg.Forward.Listen).Str("url", cfg.Forward.URL).Msg("forwarder listening")
	}

	err = g.Wait()

	log.Info().Msg("shutting down")
	return err
}

func newSupervisor(cfg *config.Config, relayCfg relay.Config, lim *limiter.SharedLimiter, monitor *status.Monitor, log zerolog.Logger) (*session.Supervisor, error) {
	dialCfg, err := cfg.DialerConfig()
	if err != nil {
		return nil, err
	}

	d, err := dialer.New(dialCfg, cfg.Dial.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid --upstream: %w", err)
	}

	rules, err := dialer.NewRuleset(dialCfg.AllowedOutAddresses)
	if err != nil {
		return nil, fmt.Errorf("invalid --allow-out: %w", err)
	}

	return session.NewSupervisor(session.Config{
		Connector:          dialer.NewConnector(d, rules, dialCfg.DialTimeout),
		NegotiationTimeout: cfg.Server.NegotiationTimeout.Duration(),
		Relay:              relayCfg,
		Limiter:            lim,
		Monitor:            monitor,
		Logger:             log,
		Verbose:            cfg.Verbose,
	}), nil
}
