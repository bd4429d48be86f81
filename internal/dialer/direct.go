package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	resolver Resolver
	strategy IPStrategy
	nd       net.Dialer
}

// NewDirectDialer returns a Dialer that resolves names itself and connects
// straight to the target.
func NewDirectDialer(cfg Config) (Dialer, error) {
	strategy, err := ParseIPStrategy(cfg.IPStrategy)
	if err != nil {
		return nil, err
	}

	var resolver Resolver = NewSystemResolver()
	if cfg.DNSServer != "" {
		resolver = NewDNSResolver(cfg.DNSServer, cfg.DialTimeout)
	}

	return &directDialer{
		resolver: resolver,
		strategy: strategy,
		nd: net.Dialer{
			Timeout:         cfg.DialTimeout,
			KeepAliveConfig: cfg.KeepAlive,
			Control:         bindControl(cfg.Interface),
		},
	}, nil
}

// DialContext resolves the host of address (unless it is an IP literal) and
// connects to the candidates in strategy order, all under ctx's deadline.
func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = d.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, &ResolveError{Host: host, Err: err}
		}
	}

	ips = d.strategy.Order(ips)
	if len(ips) == 0 {
		return nil, &ResolveError{Host: host, Err: fmt.Errorf("no addresses usable with ip strategy %q", d.strategy)}
	}

	var firstErr error
	for _, ip := range ips {
		conn, err := d.nd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("dial %s %s: %w", network, address, firstErr)
}
