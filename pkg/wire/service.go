package wire

import "fmt"

// ServiceIdentifier enumerates the kinds of service a satellite can
// advertise over CHIRP.
type ServiceIdentifier uint8

const (
	ServiceControl    ServiceIdentifier = 1
	ServiceHeartbeat  ServiceIdentifier = 2
	ServiceMonitoring ServiceIdentifier = 3
	ServiceData       ServiceIdentifier = 4
)

func (s ServiceIdentifier) String() string {
	switch s {
	case ServiceControl:
		return "CONTROL"
	case ServiceHeartbeat:
		return "HEARTBEAT"
	case ServiceMonitoring:
		return "MONITORING"
	case ServiceData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// RegisteredService is a service this process offers, keyed by (id, port).
// Registered services are totally ordered by id then port so they can live
// in a sorted set.
type RegisteredService struct {
	ID   ServiceIdentifier
	Port uint16
}

// Less orders RegisteredService by id then port.
func (a RegisteredService) Less(b RegisteredService) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Port < b.Port
}

// DiscoveredService is a service advertised by a peer. Identity is
// (HostID, ID, Port) — IP is metadata and intentionally excluded from
// equality, so a peer re-offering from a new address still collapses onto
// the existing entry.
type DiscoveredService struct {
	HostID  HostID
	ID      ServiceIdentifier
	Port    uint16
	Address string // informational only, not part of identity
}

// Key returns the identity tuple used for set membership and map keys.
func (d DiscoveredService) Key() DiscoveredServiceKey {
	return DiscoveredServiceKey{HostID: d.HostID, ID: d.ID, Port: d.Port}
}

// DiscoveredServiceKey is the comparable identity of a DiscoveredService,
// suitable as a map key — deliberately excludes Address.
type DiscoveredServiceKey struct {
	HostID HostID
	ID     ServiceIdentifier
	Port   uint16
}

// Less orders DiscoveredService by host id, then service id, then port.
func (a DiscoveredService) Less(b DiscoveredService) bool {
	if a.HostID != b.HostID {
		return string(a.HostID[:]) < string(b.HostID[:])
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Port < b.Port
}
