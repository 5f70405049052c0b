// Package mobility tracks participant-local transport addresses across IP
// changes and drives the reannounce burst that keeps remote participants'
// discovery data current (C18). It mirrors the detector/tracker/reannounce
// split of the reference mobility manager, but defines ChangeDetector as an
// interface so a platform-specific implementation (e.g. a netlink listener
// on Linux) can be swapped in without touching the state machine.
package mobility

import (
	"net"
	"sync"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// ChangeKind classifies one locator change reported by a ChangeDetector.
type ChangeKind int

const (
	LocatorAdded ChangeKind = iota
	LocatorRemoved
	LocatorUpdated
)

func (k ChangeKind) String() string {
	switch k {
	case LocatorAdded:
		return "added"
	case LocatorRemoved:
		return "removed"
	case LocatorUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// LocatorChange is one reported address transition on a network interface.
type LocatorChange struct {
	Locator   ddsid.Locator
	Interface string
	Kind      ChangeKind
}

// ChangeDetector is the pluggable source of locator-change events. A real
// implementation polls or subscribes to OS network-interface notifications;
// PollingDetector below is the portable reference implementation.
type ChangeDetector interface {
	// PollChanges returns changes observed since the last call and clears
	// its internal queue.
	PollChanges() ([]LocatorChange, error)

	// CurrentAddresses returns every address currently assigned to a
	// tracked interface, regardless of whether it has changed.
	CurrentAddresses() ([]ddsid.Locator, error)

	// Name identifies the detector implementation for logging.
	Name() string
}

// InterfaceFilter restricts which network interfaces are tracked.
type InterfaceFilter struct {
	allowlist map[string]bool // nil means "all interfaces"
}

// AllInterfaces tracks every interface.
func AllInterfaces() InterfaceFilter { return InterfaceFilter{} }

// OnlyInterfaces restricts tracking to the named interfaces.
func OnlyInterfaces(names ...string) InterfaceFilter {
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	return InterfaceFilter{allowlist: allow}
}

func (f InterfaceFilter) allows(name string) bool {
	if f.allowlist == nil {
		return true
	}
	return f.allowlist[name]
}

// AddressFilter restricts which addresses are tracked (e.g. to exclude
// loopback or link-local addresses).
type AddressFilter struct {
	excludeLoopback  bool
	excludeLinkLocal bool
}

// AllAddresses tracks every address a detector reports.
func AllAddresses() AddressFilter { return AddressFilter{} }

// RoutableAddresses excludes loopback and link-local addresses, the
// common case for a participant advertising reachable endpoints.
func RoutableAddresses() AddressFilter {
	return AddressFilter{excludeLoopback: true, excludeLinkLocal: true}
}

func (f AddressFilter) allows(ip net.IP) bool {
	if f.excludeLoopback && ip.IsLoopback() {
		return false
	}
	if f.excludeLinkLocal && ip.IsLinkLocalUnicast() {
		return false
	}
	return true
}

// PollingDetector polls net.Interfaces/net.InterfaceAddrs on demand and
// diffs against its last snapshot. It works on every platform Go supports,
// unlike a netlink-based detector, at the cost of needing an external
// caller to invoke PollChanges periodically rather than being pushed
// notifications.
type PollingDetector struct {
	mu       sync.Mutex
	ifaceFn  func() ([]net.Interface, error)
	addrFn   func(net.Interface) ([]net.Addr, error)
	ifaceF   InterfaceFilter
	addrF    AddressFilter
	lastSeen map[string]string // locator key -> interface name
}

// NewPollingDetector builds a PollingDetector using the real net package.
func NewPollingDetector(ifaceF InterfaceFilter, addrF AddressFilter) *PollingDetector {
	return &PollingDetector{
		ifaceFn:  net.Interfaces,
		addrFn:   func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
		ifaceF:   ifaceF,
		addrF:    addrF,
		lastSeen: make(map[string]string),
	}
}

func (d *PollingDetector) Name() string { return "polling" }

func (d *PollingDetector) snapshot() (map[string]string, error) {
	ifaces, err := d.ifaceFn()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	for _, iface := range ifaces {
		if !d.ifaceF.allows(iface.Name) {
			continue
		}
		addrs, err := d.addrFn(iface)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := addrToIP(a)
			if ip == nil || !d.addrF.allows(ip) {
				continue
			}
			seen[locatorKeyForIP(ip)] = iface.Name
		}
	}
	return seen, nil
}

// PollChanges diffs the current interface/address set against the last
// snapshot and returns the additions and removals.
func (d *PollingDetector) PollChanges() ([]LocatorChange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.snapshot()
	if err != nil {
		return nil, err
	}

	var changes []LocatorChange
	for key, iface := range current {
		if _, ok := d.lastSeen[key]; !ok {
			changes = append(changes, LocatorChange{
				Locator:   locatorFromKey(key),
				Interface: iface,
				Kind:      LocatorAdded,
			})
		}
	}
	for key, iface := range d.lastSeen {
		if _, ok := current[key]; !ok {
			changes = append(changes, LocatorChange{
				Locator:   locatorFromKey(key),
				Interface: iface,
				Kind:      LocatorRemoved,
			})
		}
	}
	d.lastSeen = current
	return changes, nil
}

// CurrentAddresses takes a fresh snapshot of the tracked addresses. It
// does not update the baseline that PollChanges diffs against.
func (d *PollingDetector) CurrentAddresses() ([]ddsid.Locator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]ddsid.Locator, 0, len(current))
	for key := range current {
		out = append(out, locatorFromKey(key))
	}
	return out, nil
}

func addrToIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// locatorKeyForIP/locatorFromKey round-trip an IPv4 address through the
// dotted-quad string form; PollingDetector only tracks reachability, not
// port, so the port field is always zero.
func locatorKeyForIP(ip net.IP) string {
	return ip.String()
}

func locatorFromKey(key string) ddsid.Locator {
	ip := net.ParseIP(key).To4()
	if ip == nil {
		return ddsid.Locator{}
	}
	return ddsid.NewUDPv4Locator(ip[0], ip[1], ip[2], ip[3], 0)
}
