// Package ring implements the lock-free single-producer / multi-consumer
// index ring (C2, §4.2) that carries IndexEntry records from the topic
// merger to every subscribed reader without copying the underlying slab
// payload.
package ring

import (
	"sync"
	"sync/atomic"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/slab"
)

// Flags on an IndexEntry.
type Flags uint8

const (
	FlagNone       Flags = 0
	FlagKeyOnly    Flags = 1 << 0 // dispose/unregister with no data
	FlagDisposed   Flags = 1 << 1
)

// Entry mirrors the wire IndexEntry (§3): (seq, handle, len, flags, ts).
// Seq is carried as a full 64-bit ddsid.SequenceNumber per the widening
// decision recorded in DESIGN.md (§9 Open Question), not the 32-bit field
// the original implementation used internally.
type Entry struct {
	Seq         ddsid.SequenceNumber
	Handle      slab.Handle
	Len         uint32
	Flags       Flags
	TimestampNs uint64
}

// Ring is a bounded SPMC ring buffer of Entry values. Capacity must be a
// power of two. A single producer calls Push; any number of consumers
// call Pop with independent read cursors.
type Ring struct {
	buf      []Entry
	mask     uint64
	head     atomic.Uint64 // next write position (producer-owned)
	capacity uint64

	cursorsMu sync.RWMutex
	cursors   []*Cursor
}

// New creates a ring of the given power-of-two capacity.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a positive power of two")
	}
	return &Ring{
		buf:      make([]Entry, capacity),
		mask:     uint64(capacity - 1),
		capacity: uint64(capacity),
	}
}

// Push appends an entry. It returns false if the ring is full relative to
// its slowest registered consumer (§4.2); the caller (the merger) treats
// this as backpressure against that one reader and drops the reference.
// A ring with no registered consumers is never full (there is nothing to
// back up against): entries overwrite older slots, and a cursor
// registered later starts at the current head.
func (r *Ring) Push(e Entry) bool {
	head := r.head.Load()
	if tail, has := r.slowestCursor(); has && head-tail >= r.capacity {
		return false
	}
	r.buf[head&r.mask] = e
	// Release: publish the entry before advancing head so a consumer that
	// observes the new head also observes the slab-committed bytes the
	// entry's handle refers to (§5 ordering guarantees).
	r.head.Store(head + 1)
	return true
}

func (r *Ring) slowestCursor() (uint64, bool) {
	r.cursorsMu.RLock()
	defer r.cursorsMu.RUnlock()
	if len(r.cursors) == 0 {
		return 0, false
	}
	min := r.cursors[0].pos.Load()
	for _, c := range r.cursors[1:] {
		if p := c.pos.Load(); p < min {
			min = p
		}
	}
	return min, true
}

// Cursor is a consumer's independent read position into a Ring.
type Cursor struct {
	pos atomic.Uint64
}

// NewCursor returns a cursor starting at the ring's current head, i.e. it
// will only observe entries pushed after this call, and registers it so
// Push can compute backpressure against it. Callers should Unregister the
// cursor when the consumer goes away.
func NewCursor(r *Ring) *Cursor {
	c := &Cursor{}
	c.pos.Store(r.head.Load())
	r.cursorsMu.Lock()
	r.cursors = append(r.cursors, c)
	r.cursorsMu.Unlock()
	return c
}

// Unregister removes a cursor from backpressure accounting.
func (r *Ring) Unregister(c *Cursor) {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	for i, cur := range r.cursors {
		if cur == c {
			r.cursors = append(r.cursors[:i], r.cursors[i+1:]...)
			return
		}
	}
}

// Pop returns the next entry for this cursor, or ok=false if the cursor
// has caught up to the producer.
func (r *Ring) Pop(c *Cursor) (Entry, bool) {
	// Acquire: read head before reading the slot so we never observe a
	// torn/in-progress write.
	head := r.head.Load()
	pos := c.pos.Load()
	if pos >= head {
		return Entry{}, false
	}
	e := r.buf[pos&r.mask]
	c.pos.Store(pos + 1)
	return e, true
}

// Len reports how many entries the producer has published so far
// (monotonic counter, not currently-buffered count; used for diagnostics).
func (r *Ring) Len() int {
	return int(r.head.Load())
}
