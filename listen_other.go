//go:build !(linux || darwin || freebsd)

package websocket

import (
	"syscall"
)

func listenControl(network, address string, rc syscall.RawConn) error {
	return nil
}
