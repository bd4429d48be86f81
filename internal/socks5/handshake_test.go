package socks5

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
)

var (
	greeting       = []byte{0x05, 0x01, 0x00}
	connectLocal80 = []byte{0x05, 0x01, 0x00, 0x01, 0x7f, 0x00, 0x00, 0x01, 0x00, 0x50}
)

func TestEngineWholeMessages(t *testing.T) {
	e := NewEngine()

	reply, err := e.Feed(greeting)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reply, []byte{0x05, 0x00}) {
		t.Fatalf("negotiation reply % x", reply)
	}
	if e.State() != AwaitingRequest {
		t.Fatalf("state %s", e.State())
	}

	reply, err = e.Feed(connectLocal80)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply) != 0 {
		t.Fatalf("unexpected reply % x", reply)
	}
	if e.State() != Established {
		t.Fatalf("state %s", e.State())
	}
	if got := e.Request().Addr.String(); got != "127.0.0.1:80" {
		t.Fatalf("addr %s", got)
	}
}

func TestEngineByteAtATime(t *testing.T) {
	domainReq := []byte{0x05, 0x01, 0x00, 0x03, 0x0b}
	domainReq = append(domainReq, "example.com"...)
	domainReq = append(domainReq, 0x01, 0xbb)

	input := append(append(append([]byte{}, greeting...), domainReq...), "GET /"...)

	e := NewEngine()
	var replies []byte
	for i := range input {
		reply, err := e.Feed(input[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		replies = append(replies, reply...)
	}

	if !bytes.Equal(replies, []byte{0x05, 0x00}) {
		t.Fatalf("replies % x", replies)
	}
	if e.State() != Established {
		t.Fatalf("state %s", e.State())
	}
	if got := e.Request().Addr; got.Type != ATYPDomain || got.String() != "example.com:443" {
		t.Fatalf("addr %+v", got)
	}
	if got := string(e.Pending()); got != "GET /" {
		t.Fatalf("pending %q", got)
	}
}

func TestEngineCoalesced(t *testing.T) {
	ipv6Req := []byte{0x05, 0x01, 0x00, 0x04}
	ipv6Req = append(ipv6Req, net.IPv6loopback...)
	ipv6Req = append(ipv6Req, 0x00, 0x16)

	e := NewEngine()
	reply, err := e.Feed(append(append([]byte{}, greeting...), ipv6Req...))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reply, []byte{0x05, 0x00}) {
		t.Fatalf("reply % x", reply)
	}
	if got := e.Request().Addr.String(); got != "[::1]:22" {
		t.Fatalf("addr %s", got)
	}
	if e.Pending() != nil {
		t.Fatalf("pending % x", e.Pending())
	}
}

func TestEngineRejections(t *testing.T) {
	tests := []struct {
		name      string
		input     []byte
		wantReply []byte
		wantErr   error
	}{
		{
			name:      "wrong greeting version",
			input:     []byte{0x04, 0x01, 0x00},
			wantReply: nil,
			wantErr:   ErrVersion,
		},
		{
			name:      "no acceptable methods",
			input:     []byte{0x05, 0x01, 0x02},
			wantReply: []byte{0x05, 0xff},
			wantErr:   ErrNoAcceptableMethods,
		},
		{
			name:      "bind",
			input:     append(append([]byte{}, greeting...), 0x05, 0x02, 0x00, 0x01, 0, 0, 0, 0, 0, 0),
			wantReply: []byte{0x05, 0x00, 0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr:   ErrCommandNotSupported,
		},
		{
			name:      "udp associate",
			input:     append(append([]byte{}, greeting...), 0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0),
			wantReply: []byte{0x05, 0x00, 0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr:   ErrCommandNotSupported,
		},
		{
			name:      "unknown address type",
			input:     append(append([]byte{}, greeting...), 0x05, 0x01, 0x00, 0x02, 0, 0),
			wantReply: []byte{0x05, 0x00, 0x05, 0x08, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr:   ErrAddressTypeNotSupported,
		},
		{
			name:      "empty domain",
			input:     append(append([]byte{}, greeting...), 0x05, 0x01, 0x00, 0x03, 0x00, 0x00, 0x50),
			wantReply: []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr:   ErrMalformed,
		},
		{
			name:      "wrong request version",
			input:     append(append([]byte{}, greeting...), 0x04, 0x01, 0x00, 0x01),
			wantReply: []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
			wantErr:   ErrVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			reply, err := e.Feed(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
			if !bytes.Equal(reply, tt.wantReply) {
				t.Fatalf("reply % x want % x", reply, tt.wantReply)
			}
			if e.State() != Rejected {
				t.Fatalf("state %s", e.State())
			}
			if _, err := e.Feed([]byte{0x05}); !errors.Is(err, ErrHandshakeDone) {
				t.Fatalf("feed after reject: %v", err)
			}
		})
	}
}

func TestNegotiateUnexpectedEOF(t *testing.T) {
	rw := &scriptedConn{in: bytes.NewReader([]byte{0x05, 0x01})}
	_, _, err := Negotiate(rw)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v", err)
	}
}

func TestNegotiateNoAcceptableMethods(t *testing.T) {
	rw := &scriptedConn{in: bytes.NewReader([]byte{0x05, 0x02, 0x01, 0x02})}
	_, _, err := Negotiate(rw)
	if !errors.Is(err, ErrNoAcceptableMethods) {
		t.Fatalf("got %v", err)
	}
	if !bytes.Equal(rw.out.Bytes(), []byte{0x05, 0xff}) {
		t.Fatalf("wrote % x", rw.out.Bytes())
	}
}

func TestNegotiatePending(t *testing.T) {
	in := append(append(append([]byte{}, greeting...), connectLocal80...), "hello"...)
	rw := &scriptedConn{in: bytes.NewReader(in)}
	req, pending, err := Negotiate(rw)
	if err != nil {
		t.Fatal(err)
	}
	if req.Addr.String() != "127.0.0.1:80" {
		t.Fatalf("addr %s", req.Addr)
	}
	if string(pending) != "hello" {
		t.Fatalf("pending %q", pending)
	}
	if !bytes.Equal(rw.out.Bytes(), []byte{0x05, 0x00}) {
		t.Fatalf("wrote % x", rw.out.Bytes())
	}
}

// scriptedConn reads from a fixed script and records writes.
type scriptedConn struct {
	in  io.Reader
	out bytes.Buffer
}

func (c *scriptedConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *scriptedConn) Write(p []byte) (int, error) { return c.out.Write(p) }
