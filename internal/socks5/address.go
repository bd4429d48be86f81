package socks5

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// AddressSpec is the parsed DST.ADDR/DST.PORT of a request. Exactly one of IP
// or FQDN is set, matching Type.
type AddressSpec struct {
	Type byte
	IP   net.IP
	FQDN string
	Port uint16
}

// Host returns the IP literal or domain name without the port.
func (a AddressSpec) Host() string {
	if a.Type == ATYPDomain {
		return a.FQDN
	}
	return a.IP.String()
}

// String returns the address in host:port form, suitable for net.Dial.
func (a AddressSpec) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// Network returns the network name for net.Addr.
func (a AddressSpec) Network() string {
	return "tcp"
}

// ParseAddressSpec converts a host:port string into an AddressSpec, picking
// the address type from the host form.
func ParseAddressSpec(address string) (AddressSpec, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return AddressSpec{}, fmt.Errorf("parse address %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return AddressSpec{}, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return AddressSpec{Type: ATYPIPv4, IP: ip4, Port: uint16(port)}, nil
		}
		return AddressSpec{Type: ATYPIPv6, IP: ip, Port: uint16(port)}, nil
	}
	if host == "" || len(host) > 255 {
		return AddressSpec{}, fmt.Errorf("parse address %q: %w", address, ErrMalformed)
	}
	return AddressSpec{Type: ATYPDomain, FQDN: host, Port: uint16(port)}, nil
}

// addrLen reports how many bytes of b the ATYP/DST.ADDR/DST.PORT fields
// starting at b[0] occupy. A zero length with a nil error means more input is
// needed.
//
//	+------+----------+----------+
//	| ATYP | DST.ADDR | DST.PORT |
//	+------+----------+----------+
//	|  1   | Variable |    2     |
func addrLen(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, nil
	}
	switch b[0] {
	case ATYPIPv4:
		return 1 + net.IPv4len + 2, nil
	case ATYPIPv6:
		return 1 + net.IPv6len + 2, nil
	case ATYPDomain:
		if len(b) < 2 {
			return 0, nil
		}
		if b[1] == 0 {
			return 0, fmt.Errorf("%w: empty domain name", ErrMalformed)
		}
		return 1 + 1 + int(b[1]) + 2, nil
	default:
		return 0, fmt.Errorf("%w: %#x", ErrAddressTypeNotSupported, b[0])
	}
}

// decodeAddr parses a complete ATYP/DST.ADDR/DST.PORT block whose length was
// already validated by addrLen.
func decodeAddr(b []byte) AddressSpec {
	a := AddressSpec{Type: b[0]}
	switch a.Type {
	case ATYPIPv4:
		a.IP = net.IP(append([]byte(nil), b[1:1+net.IPv4len]...))
	case ATYPIPv6:
		a.IP = net.IP(append([]byte(nil), b[1:1+net.IPv6len]...))
	case ATYPDomain:
		a.FQDN = string(b[2 : 2+int(b[1])])
	}
	a.Port = binary.BigEndian.Uint16(b[len(b)-2:])
	return a
}
