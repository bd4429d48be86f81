// Package socks5 implements the server side of the SOCKS5 handshake used by
// wsconduit.
//
// The handshake is an explicit, resumable state machine ([Engine]) fed from a
// byte stream rather than from transport messages, so a greeting and request
// split across (or coalesced into) arbitrary WebSocket frames parse the same
// way. Only the no-authentication method and the CONNECT command are
// accepted; everything else is answered with the matching RFC 1928 reply code
// and the handshake is rejected.
//
// Reply and negotiation records are written with the wire types from
// github.com/txthinking/socks5, which also backs the small client helpers used
// by tests and by the socks5:// upstream.
package socks5
