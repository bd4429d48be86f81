package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds name resolution plus TCP connect for one target.
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// Interface binds outbound sockets to a network device (Linux only).
	Interface string

	// DNSServer, if set, is queried directly instead of the system resolver.
	DNSServer string
	// IPStrategy orders or filters resolved addresses; see ParseIPStrategy.
	IPStrategy string

	// AllowedOutAddresses restricts destinations when non-empty.
	AllowedOutAddresses []string
}
