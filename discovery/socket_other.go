//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package discovery

import (
	"syscall"
)

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}

func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}
