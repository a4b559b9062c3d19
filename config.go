package lanchat

import (
	"lanchat/internal/protocol"
)

// Config carries the network parameters shared by the server, the client,
// and discovery. Zero fields are filled in with defaults by New and
// NewServer.
type Config struct {
	// Port is the TCP and UDP port the protocol runs on.
	Port int

	// Broadcast is the IPv4 address discovery probes and server beacons
	// are sent to. Normally the limited broadcast address; tests point it
	// at the loopback broadcast address so traffic stays on one host.
	Broadcast string
}

// DefaultConfig returns the production configuration: the well-known port
// and the limited broadcast address.
func DefaultConfig() Config {
	return Config{
		Port:      protocol.DefaultPort,
		Broadcast: "255.255.255.255",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Broadcast == "" {
		c.Broadcast = def.Broadcast
	}
	return c
}
