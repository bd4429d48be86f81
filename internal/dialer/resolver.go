package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Resolver turns a host name into candidate IP addresses.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// ResolveError reports a name that could not be turned into an address.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

type systemResolver struct {
	r *net.Resolver
}

// NewSystemResolver resolves through the operating system's configuration.
func NewSystemResolver() Resolver {
	return &systemResolver{r: net.DefaultResolver}
}

func (s *systemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	return s.r.LookupIP(ctx, "ip", host)
}

// DNSResolver queries one DNS server for A and AAAA records in parallel.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver returns a resolver for server ("host" or "host:port"; port
// 53 when omitted).
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var v4, v6 []net.IP

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v4, err = r.query(gctx, host, dns.TypeA)
		return err
	})
	g.Go(func() error {
		var err error
		v6, err = r.query(gctx, host, dns.TypeAAAA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ips := append(v4, v6...)
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.server, IsNotFound: true}
	}
	return ips, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("dns %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("dns %s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			ips = append(ips, rr.A)
		case *dns.AAAA:
			ips = append(ips, rr.AAAA)
		}
	}
	return ips, nil
}

// IPStrategy selects which address families are dialed and in what order.
type IPStrategy string

const (
	IPStrategyAny        IPStrategy = ""
	IPStrategyIPv4Only   IPStrategy = "4"
	IPStrategyIPv6Only   IPStrategy = "6"
	IPStrategyPreferIPv4 IPStrategy = "46"
	IPStrategyPreferIPv6 IPStrategy = "64"
)

// ParseIPStrategy accepts "", "4", "6", "46" or "64".
func ParseIPStrategy(s string) (IPStrategy, error) {
	switch st := IPStrategy(strings.TrimSpace(s)); st {
	case IPStrategyAny, IPStrategyIPv4Only, IPStrategyIPv6Only, IPStrategyPreferIPv4, IPStrategyPreferIPv6:
		return st, nil
	default:
		return "", fmt.Errorf("invalid ip strategy %q (want one of \"\", 4, 6, 46, 64)", s)
	}
}

// Order filters and sorts ips; the relative order within a family is kept.
func (s IPStrategy) Order(ips []net.IP) []net.IP {
	var v4, v6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}

	switch s {
	case IPStrategyIPv4Only:
		return v4
	case IPStrategyIPv6Only:
		return v6
	case IPStrategyPreferIPv4:
		return append(v4, v6...)
	case IPStrategyPreferIPv6:
		return append(v6, v4...)
	default:
		return ips
	}
}
