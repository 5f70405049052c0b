// Package udp implements the three-socket UDP transport plane (C9, §4.9,
// §6.2): metatraffic multicast/unicast and user-data unicast, bound per
// the RTPS v2.5 port-mapping formula.
package udp

// Port mapping constants (RTPS v2.5, §6.2).
const (
	PB = 7400
	DG = 250
	PG = 2
	d0 = 0
	d1 = 10
	d2 = 1
	d3 = 11
)

// DefaultMulticastGroup is the standard RTPS metatraffic multicast
// address (§6.2).
const DefaultMulticastGroup = "239.255.0.1"

// PortMapping holds the four ports a participant binds for a given
// domain and participant index (§6.2).
type PortMapping struct {
	MetatrafficMulticast int
	MetatrafficUnicast   int
	UserDataMulticast    int
	UserDataUnicast      int
}

// ComputePortMapping applies the RTPS v2.5 formula for domain d and
// participant index p (§6.2).
func ComputePortMapping(domain, participantIndex int) PortMapping {
	return PortMapping{
		MetatrafficMulticast: PB + DG*domain + d0,
		MetatrafficUnicast:   PB + DG*domain + d1 + PG*participantIndex,
		UserDataMulticast:    PB + DG*domain + d2,
		UserDataUnicast:      PB + DG*domain + d3 + PG*participantIndex,
	}
}
