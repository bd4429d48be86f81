package socks5

import (
	"errors"
)

// Handshake failures. Each one maps to a reply code through ReplyCode.
var (
	ErrVersion                 = errors.New("socks5: unsupported protocol version")
	ErrNoAcceptableMethods     = errors.New("socks5: no acceptable authentication method")
	ErrCommandNotSupported     = errors.New("socks5: command not supported")
	ErrAddressTypeNotSupported = errors.New("socks5: address type not supported")
	ErrMalformed               = errors.New("socks5: malformed request")
	ErrHandshakeDone           = errors.New("socks5: handshake already finished")
)

// ReplyCoder is implemented by errors that know which SOCKS5 reply code they
// should be reported as, such as connect failures from the dialer.
type ReplyCoder interface {
	ReplyCode() byte
}

// ReplyCode returns the reply code a client should see for err. A nil error
// is a success; unknown errors are general failures.
func ReplyCode(err error) byte {
	if err == nil {
		return RepSucceeded
	}

	var rc ReplyCoder
	if errors.As(err, &rc) {
		return rc.ReplyCode()
	}

	switch {
	case errors.Is(err, ErrNoAcceptableMethods):
		return MethodNoAcceptableMethods
	case errors.Is(err, ErrCommandNotSupported):
		return RepCommandNotSupported
	case errors.Is(err, ErrAddressTypeNotSupported):
		return RepAddressTypeNotSupported
	default:
		return RepGeneralFailure
	}
}

// ReplyError is returned by the client helpers when the server answers a
// CONNECT request with a non-success reply.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return "socks5: server replied " + replyText(e.Code)
}

func replyText(code byte) string {
	switch code {
	case RepSucceeded:
		return "succeeded"
	case RepGeneralFailure:
		return "general failure"
	case RepNotAllowed:
		return "connection not allowed by ruleset"
	case RepNetworkUnreachable:
		return "network unreachable"
	case RepHostUnreachable:
		return "host unreachable"
	case RepConnectionRefused:
		return "connection refused"
	case RepTTLExpired:
		return "TTL expired"
	case RepCommandNotSupported:
		return "command not supported"
	case RepAddressTypeNotSupported:
		return "address type not supported"
	case MethodNoAcceptableMethods:
		return "no acceptable methods"
	default:
		return "unknown reply"
	}
}

// IsRejection reports whether err is a protocol violation that the server
// answered (or deliberately left unanswered) rather than an I/O failure.
func IsRejection(err error) bool {
	for _, target := range []error{ErrVersion, ErrNoAcceptableMethods, ErrCommandNotSupported, ErrAddressTypeNotSupported, ErrMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
