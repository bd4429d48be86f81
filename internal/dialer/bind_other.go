//go:build !linux

package dialer

import (
	"errors"
	"syscall"
)

func bindControl(ifname string) func(network, address string, c syscall.RawConn) error {
	if ifname == "" {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return errors.New("binding to an interface is only supported on linux")
	}
}
