// Package history implements the writer-side history cache (C7, §4.7):
// an ordered seq→payload store used for retransmission and transient-local
// replay, evicted according to the writer's History/ResourceLimits QoS.
package history

import (
	"errors"
	"sort"
	"sync"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// ErrWouldBlock is returned by Insert when a KeepAll cache is at capacity
// (§4.7, §7 Transient/backpressure).
var ErrWouldBlock = errors.New("history: cache full (KeepAll at max_samples)")

// Policy is the eviction policy for a history cache (§3).
type Policy struct {
	KeepAll       bool
	KeepLastN     int // only meaningful when !KeepAll; must be > 0
	MaxSamples    int // ResourceLimits.max_samples; only enforced when KeepAll
}

// Entry is a single cached sample (§3): seq, payload, instance key, and
// timestamp.
type Entry struct {
	Seq         ddsid.SequenceNumber
	Payload     []byte
	Instance    ddsid.InstanceHandle
	TimestampNs uint64
}

// Cache is the per-writer ordered history store.
type Cache struct {
	mu       sync.RWMutex
	policy   Policy
	bySeq    map[ddsid.SequenceNumber]*Entry
	order    []ddsid.SequenceNumber          // ascending seq insertion order
	byInst   map[ddsid.InstanceHandle][]ddsid.SequenceNumber // per-instance ascending seqs, for KeepLast(n)
}

// New creates a history cache governed by the given policy.
func New(policy Policy) *Cache {
	return &Cache{
		policy: policy,
		bySeq:  make(map[ddsid.SequenceNumber]*Entry),
		byInst: make(map[ddsid.InstanceHandle][]ddsid.SequenceNumber),
	}
}

// Insert adds a sample, evicting per policy (§4.7):
//   - KeepLast(n): drop the oldest entries for the same instance beyond n.
//   - KeepAll: reject with ErrWouldBlock once size == MaxSamples.
func (c *Cache) Insert(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy.KeepAll {
		if c.policy.MaxSamples > 0 && len(c.order) >= c.policy.MaxSamples {
			return ErrWouldBlock
		}
		c.insertLocked(e)
		return nil
	}

	n := c.policy.KeepLastN
	if n <= 0 {
		n = 1
	}
	c.insertLocked(e)
	seqs := c.byInst[e.Instance]
	for len(seqs) > n {
		oldest := seqs[0]
		seqs = seqs[1:]
		c.removeLocked(oldest)
	}
	c.byInst[e.Instance] = seqs
	return nil
}

func (c *Cache) insertLocked(e Entry) {
	cp := e
	c.bySeq[e.Seq] = &cp
	c.order = append(c.order, e.Seq)
	c.byInst[e.Instance] = append(c.byInst[e.Instance], e.Seq)
}

func (c *Cache) removeLocked(seq ddsid.SequenceNumber) {
	delete(c.bySeq, seq)
	for i, s := range c.order {
		if s == seq {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get returns the entry for a sequence number, if still cached.
func (c *Cache) Get(seq ddsid.SequenceNumber) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.bySeq[seq]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// OldestSeq and newest feed HEARTBEAT firstSN/lastSN (§4.7).
func (c *Cache) OldestSeq() (ddsid.SequenceNumber, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return 0, false
	}
	return c.minSeqLocked(), true
}

func (c *Cache) minSeqLocked() ddsid.SequenceNumber {
	min := c.order[0]
	for _, s := range c.order[1:] {
		if s.Before(min) {
			min = s
		}
	}
	return min
}

// NewestSeq returns the highest cached sequence number.
func (c *Cache) NewestSeq() (ddsid.SequenceNumber, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return 0, false
	}
	max := c.order[0]
	for _, s := range c.order[1:] {
		if max.Before(s) {
			max = s
		}
	}
	return max, true
}

// SnapshotPayloads returns every cached entry ordered by sequence number,
// for retransmission or transient-local replay (§4.7, §4.8).
func (c *Cache) SnapshotPayloads() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, *c.bySeq[s])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
