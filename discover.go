package lanchat

import (
	"log/slog"
	"net"
	"time"

	"lanchat/internal/protocol"
)

// discover probes the broadcast domain for running servers. It sends one
// SERVER_INFO_REQUEST every probe interval and collects beacon replies,
// deduplicating by source IP. The pass ends after the hard 2 s window, or
// 1 s after the first candidate appears, whichever comes sooner. A closed
// stop channel ends the pass early with whatever was found.
func discover(cfg Config, stop <-chan struct{}) ([]candidateServer, error) {
	conn, err := listenBroadcastUDP(cfg.Port)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(cfg.Broadcast), Port: cfg.Port}
	request := []byte{protocol.OpServerInfoRequest}

	var cands []candidateServer
	byIP := make(map[string]bool)
	hardDeadline := time.Now().Add(discoveryWindow)
	buf := make([]byte, 64)

	for time.Now().Before(hardDeadline) {
		select {
		case <-stop:
			return cands, nil
		default:
		}

		if _, err := conn.WriteToUDP(request, dst); err != nil {
			slog.Debug("discovery probe failed", "err", err)
		}

		probeDeadline := time.Now().Add(discoveryProbeInterval)
		for {
			conn.SetReadDeadline(probeDeadline)
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				break // probe interval elapsed
			}
			b, ok := protocol.DecodeBeacon(buf[:n])
			if !ok {
				continue
			}
			key := from.IP.String()
			if byIP[key] {
				continue
			}
			byIP[key] = true
			cands = append(cands, candidateServer{
				addr: from.IP,
				age:  b.Age,
				seen: time.Now(),
				uid:  b.UID,
			})
			slog.Debug("discovered server", "addr", from.IP, "age_s", b.Age, "uid", b.UID)

			// Fast path: something answered, so cap the remaining window.
			if short := time.Now().Add(discoveryShortWindow); short.Before(hardDeadline) {
				hardDeadline = short
			}
		}
	}
	return cands, nil
}
