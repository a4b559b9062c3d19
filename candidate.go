package lanchat

import (
	"net"
	"sort"
	"time"
)

// candidateServer is a server observed during discovery.
type candidateServer struct {
	addr net.IP
	age  uint32    // advertised age when the beacon arrived
	seen time.Time // when the beacon arrived
	uid  uint64
}

// effectiveAge is the advertised age plus the whole seconds elapsed since
// the beacon arrived, so candidates discovered at different instants
// compare fairly.
func (c candidateServer) effectiveAge(now time.Time) uint32 {
	return c.age + uint32(now.Sub(c.seen)/time.Second)
}

// sortCandidates orders candidates oldest first, ties broken by higher uid.
// The ordering mirrors the election rule, so the node tries the server most
// likely to survive first.
func sortCandidates(cands []candidateServer, now time.Time) {
	sort.Slice(cands, func(i, j int) bool {
		ai, aj := cands[i].effectiveAge(now), cands[j].effectiveAge(now)
		if ai != aj {
			return ai > aj
		}
		return cands[i].uid > cands[j].uid
	})
}
