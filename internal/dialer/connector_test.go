package dialer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/die-net/wsconduit/internal/socks5"
	"github.com/die-net/wsconduit/internal/testutil"
)

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func addrSpec(t *testing.T, address string) socks5.AddressSpec {
	t.Helper()

	a, err := socks5.ParseAddressSpec(address)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func connectKind(t *testing.T, err error) Kind {
	t.Helper()

	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T %v", err, err)
	}
	return ce.Kind
}

func TestConnectorSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	d, err := NewDirectDialer(Config{DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	c := NewConnector(d, nil, time.Second)

	conn, err := c.Connect(ctx, addrSpec(t, echoLn.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}

func TestConnectorResolvesWithDNSServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()
	_, port, _ := net.SplitHostPort(echoLn.Addr().String())

	dnsAddr := startDNSServer(t, map[string][]string{
		"echo.test.": {"echo.test. 60 IN A 127.0.0.1"},
	})

	d, err := NewDirectDialer(Config{DialTimeout: time.Second, DNSServer: dnsAddr, IPStrategy: "46"})
	if err != nil {
		t.Fatal(err)
	}
	c := NewConnector(d, nil, time.Second)

	conn, err := c.Connect(ctx, addrSpec(t, net.JoinHostPort("echo.test", port)))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("resolved"))

	_, err = c.Connect(ctx, addrSpec(t, net.JoinHostPort("nowhere.test", port)))
	if got := connectKind(t, err); got != ResolutionFailed {
		t.Fatalf("kind=%s", got)
	}
	if code := socks5.ReplyCode(err); code != socks5.RepHostUnreachable {
		t.Fatalf("reply code=%#x", code)
	}
}

func TestConnectorRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	d, err := NewDirectDialer(Config{DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	c := NewConnector(d, nil, time.Second)

	_, err = c.Connect(context.Background(), addrSpec(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port))))
	if got := connectKind(t, err); got != Refused {
		t.Fatalf("kind=%s err=%v", got, err)
	}
	if code := socks5.ReplyCode(err); code != socks5.RepConnectionRefused {
		t.Fatalf("reply code=%#x", code)
	}
}

func TestConnectorTimeout(t *testing.T) {
	c := NewConnector(blockingDialer{}, nil, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Connect(context.Background(), addrSpec(t, "192.0.2.1:80"))
	if got := connectKind(t, err); got != Timeout {
		t.Fatalf("kind=%s", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("connect did not honor its timeout")
	}
	if code := socks5.ReplyCode(err); code != socks5.RepHostUnreachable {
		t.Fatalf("reply code=%#x", code)
	}
}

func TestConnectorNotAllowed(t *testing.T) {
	rules, err := NewRuleset([]string{"127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	c := NewConnector(blockingDialer{}, rules, time.Second)

	_, err = c.Connect(context.Background(), addrSpec(t, "192.0.2.1:80"))
	if got := connectKind(t, err); got != NotAllowed {
		t.Fatalf("kind=%s", got)
	}
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if code := socks5.ReplyCode(err); code != socks5.RepNotAllowed {
		t.Fatalf("reply code=%#x", code)
	}
}

func TestConnectErrorReplyCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want byte
	}{
		{Failed, socks5.RepGeneralFailure},
		{ResolutionFailed, socks5.RepHostUnreachable},
		{Timeout, socks5.RepHostUnreachable},
		{Refused, socks5.RepConnectionRefused},
		{NetworkUnreachable, socks5.RepNetworkUnreachable},
		{HostUnreachable, socks5.RepHostUnreachable},
		{NotAllowed, socks5.RepNotAllowed},
	}
	for _, tt := range tests {
		err := &ConnectError{Kind: tt.kind, Addr: "x:1", Err: errors.New("boom")}
		if got := err.ReplyCode(); got != tt.want {
			t.Errorf("%s: got %#x want %#x", tt.kind, got, tt.want)
		}
	}
}
