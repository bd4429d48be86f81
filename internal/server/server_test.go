package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/die-net/wsconduit/internal/dialer"
	"github.com/die-net/wsconduit/internal/session"
	"github.com/die-net/wsconduit/internal/socks5"
	"github.com/die-net/wsconduit/internal/status"
	"github.com/die-net/wsconduit/internal/testutil"
	"github.com/die-net/wsconduit/internal/wsconn"
)

type fixture struct {
	url     string
	monitor *status.Monitor
}

func startServer(t *testing.T, cfg Config) fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	d, err := dialer.NewDirectDialer(dialer.Config{DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	m := status.NewMonitor(nil)
	sup := session.NewSupervisor(session.Config{
		Connector:          dialer.NewConnector(d, nil, time.Second),
		NegotiationTimeout: 5 * time.Second,
		Monitor:            m,
		Logger:             zerolog.Nop(),
	})

	s := New(ctx, cfg, sup, m, zerolog.Nop())
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		hs.Close()
		_ = s.Close()
	})

	return fixture{url: hs.URL, monitor: m}
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func dialTunnel(t *testing.T, url string) (*wsconn.Conn, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := wsconn.Dial(ctx, url, wsconn.DialOptions{HandshakeTimeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c, nil
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHello(t *testing.T) {
	f := startServer(t, Config{})

	resp, err := http.Get(f.url + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Hello, World!" {
		t.Fatalf("got %s %q", resp.Status, body)
	}

	resp, err = http.Get(f.url + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: %s", resp.Status)
	}
}

func TestTunnelEndToEnd(t *testing.T) {
	echo := testutil.StartStreamEchoServer(t, context.Background())
	f := startServer(t, Config{Path: "/tunnel"})

	conn, err := dialTunnel(t, wsURL(f.url, "/tunnel"))
	if err != nil {
		t.Fatal(err)
	}
	if err := socks5.ClientDial(conn, echo.Addr().String()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, conn, conn, []byte("over the tunnel"))

	var snap status.Snapshot
	getJSON(t, f.url+"/api/v1/status", &snap)
	if snap.ActiveSessions != 1 || snap.TotalSessions != 1 {
		t.Fatalf("snapshot %+v", snap)
	}

	var list []status.SessionInfo
	getJSON(t, f.url+"/api/v1/sessions", &list)
	if len(list) != 1 || list[0].Target != echo.Addr().String() || list[0].State != "relaying" {
		t.Fatalf("sessions %+v", list)
	}

	// Half-close the tunnel; the echo server finishes and the session ends.
	if err := conn.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	if rest, err := io.ReadAll(conn); err != nil || len(rest) != 0 {
		t.Fatalf("rest=%q err=%v", rest, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.monitor.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still active")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTunnelRejectsUnsupportedCommand(t *testing.T) {
	f := startServer(t, Config{})

	conn, err := dialTunnel(t, wsURL(f.url, "/ws"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil || buf[1] != 0x00 {
		t.Fatalf("method reply % x err=%v", buf, err)
	}

	// UDP ASSOCIATE 0.0.0.0:0
	if _, err := conn.Write([]byte{0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != socks5.RepCommandNotSupported {
		t.Fatalf("reply % x", reply)
	}
}

func TestMaxSessions(t *testing.T) {
	f := startServer(t, Config{MaxSessions: 1})
	url := wsURL(f.url, "/ws")

	if _, err := dialTunnel(t, url); err != nil {
		t.Fatal(err)
	}

	_, err := dialTunnel(t, url)
	if err == nil {
		t.Fatal("expected second tunnel to be refused")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestPlainGETOnTunnelPath(t *testing.T) {
	f := startServer(t, Config{})

	resp, err := http.Get(f.url + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %s", resp.Status)
	}
}

func TestACMETLSConfig(t *testing.T) {
	s := New(context.Background(), Config{ACMEHosts: []string{"tunnel.example.com"}, ACMECacheDir: t.TempDir()}, nil, nil, zerolog.Nop())

	tc := s.acmeTLSConfig()
	if tc.GetCertificate == nil {
		t.Fatal("expected GetCertificate")
	}
}

func waitIdle(t *testing.T, m *status.Monitor) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for m.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still active: %d", m.Active())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTunnelLossAfterCloseFrameClosesOutbound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	f := startServer(t, Config{})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(f.url, "/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	c := wsconn.New(ws, wsconn.Options{})
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if err := socks5.ClientDial(c, ln.Addr().String()); err != nil {
		t.Fatal(err)
	}

	var target net.Conn
	select {
	case target = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("target never accepted")
	}
	defer target.Close()

	// The target stays idle, so only the tunnel going away can end the session.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	_ = ws.UnderlyingConn().Close()

	waitIdle(t, f.monitor)

	_ = target.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadAll(target); err != nil {
		t.Fatalf("outbound not closed: %v", err)
	}
}

func TestCloseRefusesNewTunnels(t *testing.T) {
	s := New(context.Background(), Config{}, nil, nil, zerolog.Nop())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d", rec.Code)
	}
}
