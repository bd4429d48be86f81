package socks5

import (
	"bytes"
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	zeroIPv4 = []byte{0x00, 0x00, 0x00, 0x00}
	zeroPort = []byte{0x00, 0x00}
)

// WriteReply writes a reply with the given code and the placeholder bound
// address 0.0.0.0:0. The real local binding is meaningless to a client on the
// far side of the tunnel.
func WriteReply(w io.Writer, code byte) error {
	if _, err := txsocks5.NewReply(code, ATYPIPv4, zeroIPv4, zeroPort).WriteTo(w); err != nil {
		return fmt.Errorf("write reply %#x: %w", code, err)
	}
	return nil
}

// Reply returns the encoded reply for code:
//
//	+-----+-----+-------+------+----------+----------+
//	| VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
//	+-----+-----+-------+------+----------+----------+
//	|  1  |  1  | X'00' |  1   | Variable |    2     |
func Reply(code byte) []byte {
	var b bytes.Buffer
	_ = WriteReply(&b, code)
	return b.Bytes()
}

// NegotiationReply returns the encoded method selection reply.
func NegotiationReply(method byte) []byte {
	var b bytes.Buffer
	_, _ = txsocks5.NewNegotiationReply(method).WriteTo(&b)
	return b.Bytes()
}
