package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial performs a no-auth negotiation and a CONNECT for address over
// conn. A refused request is reported as a *ReplyError.
func ClientDial(conn io.ReadWriter, address string) error {
	if err := ClientNegotiate(conn); err != nil {
		return err
	}
	return ClientConnect(conn, address)
}

// ClientNegotiate offers only the no-authentication method.
func ClientNegotiate(conn io.ReadWriter) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{MethodNoAuth}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Method != MethodNoAuth {
		return &ReplyError{Code: neg.Method}
	}
	return nil
}

// ClientConnect sends a CONNECT request for address and reads the reply.
func ClientConnect(conn io.ReadWriter, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != RepSucceeded {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}
