// Package qos implements the QoS policy set (§3), profile file parsing
// and hot-reload (§4.13, §6.5), and reader/writer compatibility checking
// (C13, §4.13).
package qos

import "time"

// Reliability selects at-most-once vs. retransmitted delivery (§3).
type Reliability int

const (
	BestEffort Reliability = iota
	Reliable
)

// Durability selects how far back a late-joining reader can see (§3). The
// zero value is Volatile so an unconfigured QoS defaults to the weakest
// (safest, resource-cheapest) setting.
type Durability int

const (
	Volatile Durability = iota
	TransientLocal
	Persistent
)

// Ownership selects whether multiple writers of the same instance race or
// are arbitrated (§3). Only the kind needs to match for compatibility.
type Ownership int

const (
	OwnershipShared Ownership = iota
	OwnershipExclusive
)

// DestinationOrder controls the order in which a reader exposes samples
// from different writers (§3). ByReception is the default (§3 invariants).
type DestinationOrder int

const (
	ByReception DestinationOrder = iota
	BySourceTimestamp
)

// History mirrors the wire History policy (§3): KeepLast(n) or KeepAll.
type History struct {
	KeepAll bool
	Depth   int // KeepLast(n); must be > 0 when !KeepAll
}

// ResourceLimits bounds cache growth (§3). Invariant:
// MaxSamples >= MaxSamplesPerInstance * MaxInstances (validated by Validate).
type ResourceLimits struct {
	MaxSamples            int
	MaxSamplesPerInstance int
	MaxInstances          int
}

// DurabilityService configures the optional external durability backend
// used when Durability == Persistent (§3).
type DurabilityService struct {
	HistoryDepth int
}

// Policy is the full per-endpoint QoS policy set (§3).
type Policy struct {
	Reliability       Reliability
	Durability        Durability
	History           History
	Deadline          time.Duration
	LatencyBudget     time.Duration
	Lifespan          time.Duration
	TransportPriority int
	Partition         []string
	TimeBasedFilter   time.Duration
	Ownership         Ownership
	DestinationOrder  DestinationOrder
	ResourceLimits    ResourceLimits
	DurabilityService DurabilityService
}

// Default returns the conservative default policy: BestEffort, Volatile,
// KeepLast(1), ByReception, no resource caps.
func Default() Policy {
	return Policy{
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     History{Depth: 1},
	}
}

// Validate checks the History/ResourceLimits invariants from §3:
//   - History.Depth > 0 when not KeepAll
//   - KeepAll requires ResourceLimits.MaxSamples > 0
//   - MaxSamples >= MaxSamplesPerInstance * MaxInstances, when both are set
func (p Policy) Validate() error {
	if !p.History.KeepAll && p.History.Depth <= 0 {
		return errInvalidHistory
	}
	if p.History.KeepAll && p.ResourceLimits.MaxSamples <= 0 {
		return errKeepAllNeedsMaxSamples
	}
	rl := p.ResourceLimits
	if rl.MaxSamplesPerInstance > 0 && rl.MaxInstances > 0 && rl.MaxSamples > 0 {
		if rl.MaxSamples < rl.MaxSamplesPerInstance*rl.MaxInstances {
			return errResourceLimitsInconsistent
		}
	}
	return nil
}
