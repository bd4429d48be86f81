// Package wsconn turns a message-oriented WebSocket connection into the
// ordered byte stream the SOCKS5 handshake and the relay operate on.
//
// Every data message must be binary; message boundaries carry no meaning and
// are invisible to readers. A write becomes exactly one binary message.
// Sending a Close frame is the write half-close and receiving one is the read
// half-close, so a tunnel can keep draining one direction after the other
// has finished.
package wsconn
