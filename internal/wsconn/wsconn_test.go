package wsconn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startServer runs handler on the server side of every upgraded connection
// and returns a ws:// URL for it.
func startServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, DialOptions{HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func TestReadAcrossMessages(t *testing.T) {
	url := startServer(t, func(ws *websocket.Conn) {
		for _, part := range []string{"he", "", "llo", " world"} {
			if err := ws.WriteMessage(websocket.BinaryMessage, []byte(part)); err != nil {
				return
			}
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	c := dial(t, url)
	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestTextMessageIsFramingError(t *testing.T) {
	url := startServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("nope"))
		_, _, _ = ws.ReadMessage()
	})

	c := dial(t, url)
	buf := make([]byte, 16)
	_, err := c.Read(buf)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("got %v", err)
	}
	if _, err := c.Read(buf); !errors.Is(err, ErrFraming) {
		t.Fatalf("error not sticky: %v", err)
	}
}

func TestWriteIsOneBinaryMessage(t *testing.T) {
	got := make(chan []byte, 1)
	url := startServer(t, func(ws *websocket.Conn) {
		mt, p, err := ws.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			close(got)
			return
		}
		got <- p
	})

	c := dial(t, url)
	if _, err := c.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if string(p) != "\x05\x01\x00" {
			t.Fatalf("got % x", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestHalfClose(t *testing.T) {
	url := startServer(t, func(ws *websocket.Conn) {
		sc := New(ws, Options{})
		// Drain until the client's half-close, then answer and half-close.
		in, err := io.ReadAll(sc)
		if err != nil {
			return
		}
		if _, err := sc.Write(append([]byte("echo:"), in...)); err != nil {
			return
		}
		_ = sc.CloseWrite()
		_, _ = io.ReadAll(sc)
	})

	c := dial(t, url)
	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write([]byte("late")); !errors.Is(err, ErrWriteClosed) {
		t.Fatalf("write after CloseWrite: %v", err)
	}

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "echo:ping" {
		t.Fatalf("got %q", got)
	}
}

func TestCodec(t *testing.T) {
	mt, p := Encode([]byte("x"))
	if mt != websocket.BinaryMessage || string(p) != "x" {
		t.Fatalf("encode: %d %q", mt, p)
	}
	if _, err := Decode(websocket.TextMessage, strings.NewReader("x")); !errors.Is(err, ErrFraming) {
		t.Fatalf("decode text: %v", err)
	}
	r, err := Decode(websocket.BinaryMessage, strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(r)
	if string(b) != "x" {
		t.Fatalf("decode: %q", b)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startServer(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	c := dial(t, url)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("read after close succeeded")
	}
}

func TestPeerLossAfterCloseFrameClosesConn(t *testing.T) {
	closed := make(chan bool, 1)
	url := startServer(t, func(ws *websocket.Conn) {
		sc := New(ws, Options{})
		if _, err := io.ReadAll(sc); err != nil {
			closed <- false
			return
		}
		select {
		case <-sc.Done():
			closed <- true
		case <-time.After(2 * time.Second):
			closed <- false
		}
	})

	c := dial(t, url)
	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	// Drop the TCP connection without waiting for the peer's Close frame.
	_ = c.ws.UnderlyingConn().Close()

	if !<-closed {
		t.Fatal("server side not closed after peer went away")
	}
}
