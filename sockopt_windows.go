//go:build windows

package lanchat

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setBroadcastSockopts enables address reuse and broadcast on a UDP socket
// before bind, so multiple peers on one host can share the protocol port
// and all of them see broadcast datagrams.
func setBroadcastSockopts(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
