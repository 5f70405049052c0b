package qos

import "fmt"

// durabilityRank orders Durability so a reader's requirement can be
// compared against a writer's offering: Volatile < TransientLocal <
// Persistent (§4.13).
func durabilityRank(d Durability) int { return int(d) }

// Compatible implements the reader-asks-"can I accept this writer" rules
// of §4.13:
//   - Reliability: a BestEffort reader accepts either; a Reliable reader
//     requires a Reliable writer.
//   - Durability: reader.Durability <= writer.Durability in rank order.
//   - Deadline: reader.Deadline >= writer.Deadline (reader tolerates at
//     least as loose a deadline as the writer offers — a reader asking
//     for a *tighter* deadline than the writer provides cannot be met).
//   - LatencyBudget: reader.LatencyBudget >= writer.LatencyBudget.
//   - Ownership: kinds must match exactly.
//
// A zero Deadline/LatencyBudget means "no requirement" and is always
// satisfied.
func Compatible(reader, writer Policy) (bool, string) {
	if reader.Reliability == Reliable && writer.Reliability != Reliable {
		return false, "reader requires Reliable but writer offers BestEffort"
	}
	if durabilityRank(reader.Durability) > durabilityRank(writer.Durability) {
		return false, fmt.Sprintf("reader requires durability >= %v but writer offers %v", reader.Durability, writer.Durability)
	}
	if reader.Deadline > 0 && writer.Deadline > 0 && reader.Deadline < writer.Deadline {
		return false, fmt.Sprintf("reader deadline %v is tighter than writer deadline %v", reader.Deadline, writer.Deadline)
	}
	if reader.LatencyBudget > 0 && writer.LatencyBudget > 0 && reader.LatencyBudget < writer.LatencyBudget {
		return false, fmt.Sprintf("reader latency budget %v is tighter than writer latency budget %v", reader.LatencyBudget, writer.LatencyBudget)
	}
	if reader.Ownership != writer.Ownership {
		return false, "ownership kind mismatch"
	}
	return true, ""
}

// PolicyKind classifies whether a field of a Policy may be hot-reloaded
// in place (KindMutable) or requires endpoint recreation (KindImmutable)
// (§4.13). Diff applies the same split through its own field lists.
type PolicyKind int

const (
	KindMutable PolicyKind = iota
	KindImmutable
)

// ProfileDelta is the result of diffing two profiles (§4.13,
// SPEC_FULL.md SUPPLEMENTED FEATURES #3): which fields changed, and
// whether any of them are immutable.
type ProfileDelta struct {
	Changed           []string
	ImmutableTouched  []string
}

// RequiresRecreation reports whether this delta touched any immutable
// policy.
func (d ProfileDelta) RequiresRecreation() bool {
	return len(d.ImmutableTouched) > 0
}

// Diff compares two policies field by field, classifying each changed
// field as mutable (Deadline, LatencyBudget, TransportPriority, Lifespan,
// Partition, TimeBasedFilter) or immutable (Reliability, Durability,
// History, Ownership, DestinationOrder, ResourceLimits) per §4.13.
func Diff(old, new Policy) ProfileDelta {
	var d ProfileDelta

	mutable := func(name string, changed bool) {
		if changed {
			d.Changed = append(d.Changed, name)
		}
	}
	immutable := func(name string, changed bool) {
		if changed {
			d.Changed = append(d.Changed, name)
			d.ImmutableTouched = append(d.ImmutableTouched, name)
		}
	}

	immutable("Reliability", old.Reliability != new.Reliability)
	immutable("Durability", old.Durability != new.Durability)
	immutable("History", old.History != new.History)
	immutable("Ownership", old.Ownership != new.Ownership)
	immutable("DestinationOrder", old.DestinationOrder != new.DestinationOrder)
	immutable("ResourceLimits", old.ResourceLimits != new.ResourceLimits)

	mutable("Deadline", old.Deadline != new.Deadline)
	mutable("LatencyBudget", old.LatencyBudget != new.LatencyBudget)
	mutable("TransportPriority", old.TransportPriority != new.TransportPriority)
	mutable("Lifespan", old.Lifespan != new.Lifespan)
	mutable("Partition", !stringSliceEqual(old.Partition, new.Partition))
	mutable("TimeBasedFilter", old.TimeBasedFilter != new.TimeBasedFilter)

	return d
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
