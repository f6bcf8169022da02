//go:build linux || darwin || freebsd

package websocket

import (
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// listenControl lets a restarted server bind its port again while old
// connections linger in TIME_WAIT. A port held by a live listener stays
// taken.
func listenControl(network, address string, rc syscall.RawConn) error {
	var opErr error
	err := rc.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})

	return multierr.Append(err, opErr)
}
