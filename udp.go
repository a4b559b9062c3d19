package lanchat

import (
	"context"
	"fmt"
	"net"
)

// listenBroadcastUDP binds a UDP socket to the shared protocol port with
// address reuse and broadcast enabled. Both the server's election worker
// and the client-side discovery pass use this, so they can coexist on one
// host and both receive beacons broadcast to the port.
func listenBroadcastUDP(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setBroadcastSockopts}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	return pc.(*net.UDPConn), nil
}
