package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Board represents a board (or simulator) found on the network.
type Board struct {
	// Instance is the advertised service instance, normally the board name.
	Instance string

	// Hostname is the mDNS hostname (e.g., "ut-rack1.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when no IPv4 was advertised.
	IP string

	// Port is the framed protocol TCP port.
	Port int

	// Dialect, Chassis and Slot come from the TXT record.
	Dialect string
	Chassis int
	Slot    int

	// Metadata contains all TXT record pairs.
	Metadata map[string]string

	// DiscoveredAt is when the board was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the board
func (b *Board) String() string {
	return fmt.Sprintf("%s board %s (chassis %d slot %d) at %s", b.Dialect, b.Instance, b.Chassis, b.Slot, b.Address())
}

// Address returns host:port suitable for dialing.
func (b *Board) Address() string {
	return net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Board) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
