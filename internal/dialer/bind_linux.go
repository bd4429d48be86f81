//go:build linux

package dialer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindControl returns a socket control hook pinning outbound sockets to
// ifname with SO_BINDTODEVICE, or nil when ifname is empty.
func bindControl(ifname string) func(network, address string, c syscall.RawConn) error {
	if ifname == "" {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.BindToDevice(int(fd), ifname)
		}); err != nil {
			return err
		}
		return serr
	}
}
