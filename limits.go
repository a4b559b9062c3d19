package lanchat

import "time"

// Protocol timing constants — named values for the discovery and election
// cadences that were previously scattered magic numbers.
const (
	// discoveryWindow is the hard cap on one discovery pass.
	discoveryWindow = 2 * time.Second

	// discoveryShortWindow caps the remaining window once at least one
	// candidate has answered, so joining an existing session stays fast.
	discoveryShortWindow = time.Second

	// discoveryProbeInterval is the gap between SERVER_INFO_REQUEST
	// probes during a discovery pass.
	discoveryProbeInterval = 100 * time.Millisecond

	// youngServerAge is the age below which a server beacons at the fast
	// cadence, so freshly started duplicates converge quickly.
	youngServerAge = 2 * time.Second

	// beaconFastInterval is the beacon cadence while the server is young.
	beaconFastInterval = 100 * time.Millisecond

	// beaconSlowInterval is the steady-state beacon cadence.
	beaconSlowInterval = 2 * time.Second

	// electionFuzzSeconds is the age band, in whole seconds, inside which
	// two servers count as equally old and the higher uid wins. It absorbs
	// clock skew and beacon transit delay.
	electionFuzzSeconds = 2

	// dispatchQueueDepth bounds the fan-out queue. Producers block when it
	// fills, which back-pressures noisy clients instead of growing memory.
	dispatchQueueDepth = 256

	// dialTimeout bounds the TCP connect to one candidate so a stale
	// candidate does not stall the whole acquisition pass.
	dialTimeout = 3 * time.Second
)
