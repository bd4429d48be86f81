package socks5

// Version is the SOCKS protocol version spoken on both sides of the handshake.
const Version byte = 0x05

// Authentication methods (RFC 1928 section 3).
const (
	MethodNoAuth              byte = 0x00 // No authentication required
	MethodGSSAPI              byte = 0x01 // GSSAPI
	MethodUsernamePassword    byte = 0x02 // Username/Password (RFC 1929)
	MethodNoAcceptableMethods byte = 0xFF // No acceptable methods
)

// Commands a client may request.
const (
	CmdConnect      byte = 0x01
	CmdBind         byte = 0x02
	CmdUDPAssociate byte = 0x03
)

// Address types.
const (
	ATYPIPv4   byte = 0x01 // 4 bytes
	ATYPDomain byte = 0x03 // length-prefixed name
	ATYPIPv6   byte = 0x04 // 16 bytes
)

// Reply codes sent from server to client.
const (
	RepSucceeded               byte = 0x00
	RepGeneralFailure          byte = 0x01
	RepNotAllowed              byte = 0x02
	RepNetworkUnreachable      byte = 0x03
	RepHostUnreachable         byte = 0x04
	RepConnectionRefused       byte = 0x05
	RepTTLExpired              byte = 0x06
	RepCommandNotSupported     byte = 0x07
	RepAddressTypeNotSupported byte = 0x08
)

// maxHandshakeSize is the largest greeting plus request a client can send:
// VER NMETHODS METHODS(255) + VER CMD RSV ATYP LEN DOMAIN(255) PORT(2).
const maxHandshakeSize = 2 + 255 + 4 + 1 + 255 + 2
