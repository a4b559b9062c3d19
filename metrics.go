package lanchat

import (
	"context"
	"log/slog"
	"time"
)

// RunMetrics logs session stats every interval until ctx is canceled.
// While the node hosts the session it reports the server's fan-out
// counters; idle rows (no clients, no traffic) are skipped.
func RunMetrics(ctx context.Context, n *Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := n.hostedServer()
			if s == nil {
				continue
			}
			dispatches, bytes, clients := s.Stats()
			if clients > 0 || dispatches > 0 {
				slog.Info("session stats",
					"clients", clients,
					"dispatches", dispatches,
					"bytes", bytes,
					"age_s", s.Age())
			}
		}
	}
}
