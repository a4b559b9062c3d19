//go:build unix

package lanchat

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setBroadcastSockopts enables address reuse and broadcast on a UDP socket
// before bind, so multiple peers on one host can share the protocol port
// and all of them see broadcast datagrams.
func setBroadcastSockopts(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
