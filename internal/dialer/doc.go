// Package dialer opens the outbound TCP connections requested through the
// tunnel.
//
// A [Connector] applies the destination ruleset and the dial timeout and
// classifies failures into [ConnectError] kinds that map onto SOCKS5 reply
// codes. Underneath it, a [Dialer] either connects directly (resolving names
// first, with the system resolver or a fixed DNS server) or chains through an
// upstream SOCKS5 proxy.
package dialer
