package lanchat

import (
	"log/slog"
	"net"
	"time"

	"lanchat/internal/protocol"
)

// shouldYield reports whether this server must stand down in favour of the
// advertised peer. Older servers win; ages within the fuzz band count as a
// tie and the higher uid survives, so two simultaneously started servers
// cannot both persist. Pure function of its inputs.
func shouldYield(other protocol.Beacon, selfAge uint32, selfUID uint64) bool {
	delta := int64(other.Age) - int64(selfAge)
	if delta > electionFuzzSeconds {
		return true
	}
	return delta >= -electionFuzzSeconds && other.UID > selfUID
}

// electionLoop owns the server's UDP socket. Each iteration sends one
// SERVER_INFO beacon to the broadcast address, then drains incoming
// datagrams for the cadence window: 100 ms while the server is young, 2 s
// afterwards. Missed beacons are harmless; the next one carries the same
// decision inputs.
func (s *Server) electionLoop() {
	defer s.wg.Done()

	dst := &net.UDPAddr{IP: net.ParseIP(s.cfg.Broadcast), Port: s.cfg.Port}
	buf := make([]byte, 64)

	for !s.stopping() {
		s.sendBeacon(dst)

		window := beaconSlowInterval
		if time.Since(s.started) < youngServerAge {
			window = beaconFastInterval
		}
		deadline := time.Now().Add(window)
		for !s.stopping() {
			s.udp.SetReadDeadline(deadline)
			n, _, err := s.udp.ReadFromUDP(buf)
			if err != nil {
				break // window elapsed, or the socket closed under us
			}
			s.handleDatagram(buf[:n], dst)
		}
	}
}

// sendBeacon broadcasts one SERVER_INFO datagram. Send failures are not
// fatal; the cadence retries forever.
func (s *Server) sendBeacon(dst *net.UDPAddr) {
	b := protocol.EncodeBeacon(protocol.Beacon{Age: s.Age(), UID: s.uid})
	if _, err := s.udp.WriteToUDP(b, dst); err != nil && !s.stopping() {
		slog.Debug("beacon send failed", "err", err)
	}
}

// handleDatagram answers info requests and runs the election rule on peer
// beacons. Malformed datagrams and our own echoed beacons are dropped
// silently.
func (s *Server) handleDatagram(buf []byte, dst *net.UDPAddr) {
	if len(buf) == 1 && buf[0] == protocol.OpServerInfoRequest {
		s.sendBeacon(dst)
		return
	}

	other, ok := protocol.DecodeBeacon(buf)
	if !ok || other.UID == s.uid {
		return
	}
	if shouldYield(other, s.Age(), s.uid) {
		slog.Info("yielding to peer server",
			"peer_age", other.Age, "age", s.Age(),
			"peer_uid", other.UID, "uid", s.uid)
		s.signalStop()
	}
}
