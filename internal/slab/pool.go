// Package slab implements the process-wide arena allocator for sample
// payloads (C1, §4.1). It is a fixed-capacity array of buffers, each of
// maximum payload size, managed by a lock-free free list and a
// generation-checked handle so a stale reference can never read another
// tenant's payload.
package slab

import (
	"sync/atomic"
)

// Handle identifies a reserved slot. Generation is bumped every time the
// slot returns to the free list, so a holder of a stale Handle is
// detected by comparing generations rather than trusting the index alone.
type Handle struct {
	Generation uint32
	Index      uint32
}

type slot struct {
	generation atomic.Uint32
	refcount   atomic.Int32
	length     atomic.Uint32
	buf        []byte
}

// Pool keeps its free slots on a Treiber stack, the classic atomic-CAS
// linked list held in two fields: `top` points at the index of the most
// recently freed slot, and `next[i]` chains to the slot freed before it.
type Pool struct {
	slots     []slot
	next      []atomic.Int32 // free-list links, indexed by slot index
	top       atomic.Int32   // index of the top free slot, or -1
	capacity  int
	maxLen    int
	exhausted exhaustedCounter
}

// exhaustedCounter is the subset of *metrics.SlabMetrics a Pool needs;
// kept as an interface so this package has no dependency on the metrics
// package when no recorder is attached.
type exhaustedCounter interface {
	IncExhausted()
}

// SetMetrics attaches a recorder incremented every time Reserve finds
// every slot in use. Safe to call once, before the pool is shared across
// goroutines.
func (p *Pool) SetMetrics(m exhaustedCounter) { p.exhausted = m }

const emptyStack = int32(-1)

// NewPool allocates a pool of `capacity` slots each able to hold up to
// `maxPayloadLen` bytes.
func NewPool(capacity, maxPayloadLen int) *Pool {
	p := &Pool{
		slots:    make([]slot, capacity),
		next:     make([]atomic.Int32, capacity),
		capacity: capacity,
		maxLen:   maxPayloadLen,
	}
	for i := range p.slots {
		p.slots[i].buf = make([]byte, maxPayloadLen)
		p.slots[i].generation.Store(1)
		if i+1 < capacity {
			p.next[i].Store(int32(i + 1))
		} else {
			p.next[i].Store(emptyStack)
		}
	}
	p.top.Store(0)
	return p
}

// Capacity returns the total number of slots in the pool.
func (p *Pool) Capacity() int { return p.capacity }

// Reserve grabs a free slot able to hold `length` bytes and returns a
// writable slice into it. It returns ok=false (not an error) when every
// slot is in use or length exceeds the slot size — callers treat this as
// backpressure (§4.1, §7 WouldBlock).
func (p *Pool) Reserve(length int) (h Handle, buf []byte, ok bool) {
	if length < 0 || length > p.maxLen {
		return Handle{}, nil, false
	}
	for {
		top := p.top.Load()
		if top == emptyStack {
			if p.exhausted != nil {
				p.exhausted.IncExhausted()
			}
			return Handle{}, nil, false
		}
		newTop := p.next[top].Load()
		if p.top.CompareAndSwap(top, newTop) {
			s := &p.slots[top]
			s.refcount.Store(1)
			s.length.Store(0)
			return Handle{Generation: s.generation.Load(), Index: uint32(top)}, s.buf[:length], true
		}
	}
}

// Commit publishes the slot: subsequent readers of the same generation
// see exactly `length` bytes via GetBuffer (§4.1).
func (p *Pool) Commit(h Handle, length int) {
	s := p.slot(h)
	if s == nil {
		return
	}
	s.length.Store(uint32(length))
}

// GetBuffer returns the committed bytes for a handle, or nil if the
// generation has moved on (use-after-release, §4.1).
func (p *Pool) GetBuffer(h Handle) []byte {
	s := p.slot(h)
	if s == nil {
		return nil
	}
	return s.buf[:s.length.Load()]
}

// Retain increments the slot's reference count; used by consumers (ring
// readers) that hold a handle independently of the original reserver.
func (p *Pool) Retain(h Handle) bool {
	s := p.slot(h)
	if s == nil {
		return false
	}
	s.refcount.Add(1)
	return true
}

// Release decrements the reference count; when it reaches zero the slot's
// generation increments and it returns to the free list (§4.1).
func (p *Pool) Release(h Handle) {
	s := p.slot(h)
	if s == nil {
		return
	}
	if s.refcount.Add(-1) > 0 {
		return
	}
	s.generation.Add(1)
	idx := int32(h.Index)
	for {
		top := p.top.Load()
		p.next[idx].Store(top)
		if p.top.CompareAndSwap(top, idx) {
			return
		}
	}
}

// slot validates a handle's generation and returns the backing slot, or
// nil if the handle is stale.
func (p *Pool) slot(h Handle) *slot {
	if int(h.Index) >= p.capacity {
		return nil
	}
	s := &p.slots[h.Index]
	if s.generation.Load() != h.Generation {
		return nil
	}
	return s
}

// Stats reports capacity accounting, used by the invariant check in §8
// property 7: free + in-use == capacity.
type Stats struct {
	Capacity int
	Free     int
	InUse    int
}

// Stats walks the free list to count free slots. It is O(capacity) and
// intended for tests/diagnostics, not the data path.
func (p *Pool) Stats() Stats {
	free := 0
	seen := make(map[int32]bool)
	cur := p.top.Load()
	for cur != emptyStack && !seen[cur] {
		seen[cur] = true
		free++
		cur = p.next[cur].Load()
	}
	return Stats{Capacity: p.capacity, Free: free, InUse: p.capacity - free}
}
