// Package cache implements the per-reader sample cache (C16, §4.16): the
// ordered, bounded store a DataReader drains via read/take, independent
// of how a sample arrived (intra-process merger push or off-the-wire
// DATA/DATA_FRAG reassembly).
package cache

import (
	"sync"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// SampleState tracks whether a cached sample has been handed back by a
// read (non-destructive) call. Take/TakeBatch/TakeInstance ignore state
// entirely — they remove regardless of whether a sample was read.
type SampleState int

const (
	NotRead SampleState = iota
	Read
)

// Sample is one cached value plus the metadata a DataReader needs to
// implement ordering, instance filtering, and read-state tracking.
type Sample[T any] struct {
	Data        T
	Seq         ddsid.SequenceNumber
	TimestampNs uint64
	Instance    ddsid.InstanceHandle
	state       SampleState
}

// State reports the sample's current read state.
func (s *Sample[T]) State() SampleState { return s.state }

func (s *Sample[T]) markRead() { s.state = Read }

// Cache is a bounded, seq-ordered FIFO of samples for one reader. It is
// safe for concurrent use. The zero value is not usable; construct with
// New.
type Cache[T any] struct {
	mu            sync.Mutex
	buf           []*Sample[T]
	readCursor    int
	maxSamples    int
	totalReceived uint64
}

// New creates a Cache that holds at most maxSamples entries, evicting
// from the front (oldest sequence number) once full. maxSamples <= 0
// means unbounded.
func New[T any](maxSamples int) *Cache[T] {
	return &Cache[T]{maxSamples: maxSamples}
}

// Push inserts a sample in arrival order. A duplicate sequence number
// (one already present in the cache) is dropped silently — duplicate
// delivery is expected of best-effort and retransmitted reliable
// traffic, not an error. When the cache is at capacity the oldest entry
// is evicted to make room; if the read cursor had already moved past that
// entry (cursor > 0), the cursor is shifted back by one so it keeps
// pointing at the same sample.
func (c *Cache[T]) Push(seq ddsid.SequenceNumber, instance ddsid.InstanceHandle, timestampNs uint64, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.buf {
		if s.Seq == seq {
			return
		}
	}

	if c.maxSamples > 0 && len(c.buf) >= c.maxSamples {
		c.buf = c.buf[1:]
		if c.readCursor > 0 {
			c.readCursor--
		}
	}

	c.buf = append(c.buf, &Sample[T]{
		Data:        data,
		Seq:         seq,
		TimestampNs: timestampNs,
		Instance:    instance,
	})
	c.totalReceived++
}

// Len reports the number of samples currently cached.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// IsEmpty reports whether the cache holds no samples.
func (c *Cache[T]) IsEmpty() bool {
	return c.Len() == 0
}

// TotalReceived is the lifetime count of samples accepted by Push,
// including ones since evicted or taken.
func (c *Cache[T]) TotalReceived() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalReceived
}

// Take removes and returns the oldest sample, regardless of its read
// state. ok is false if the cache is empty.
func (c *Cache[T]) Take() (data T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return data, false
	}
	s := c.buf[0]
	c.buf = c.buf[1:]
	if c.readCursor > 0 {
		c.readCursor--
	}
	return s.Data, true
}

// TakeBatch removes and returns up to max samples from the front.
func (c *Cache[T]) TakeBatch(max int) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := max
	if n > len(c.buf) || n < 0 {
		n = len(c.buf)
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = c.buf[i].Data
	}
	c.buf = c.buf[n:]
	c.readCursor -= n
	if c.readCursor < 0 {
		c.readCursor = 0
	}
	return out
}

// TakeInstance removes and returns the oldest sample belonging to
// handle, wherever it sits in the cache. ok is false if no sample
// matches.
func (c *Cache[T]) TakeInstance(handle ddsid.InstanceHandle) (data T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, s := range c.buf {
		if s.Instance == handle {
			idx = i
			break
		}
	}
	if idx < 0 {
		return data, false
	}
	data = c.buf[idx].Data
	c.removeAt(idx)
	return data, true
}

// TakeInstanceBatch removes and returns up to max samples belonging to
// handle, oldest first.
func (c *Cache[T]) TakeInstanceBatch(handle ddsid.InstanceHandle, max int) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	var idxs []int
	for i, s := range c.buf {
		if s.Instance == handle {
			idxs = append(idxs, i)
			if max > 0 && len(idxs) >= max {
				break
			}
		}
	}
	out := make([]T, len(idxs))
	for i, idx := range idxs {
		out[i] = c.buf[idx].Data
	}
	for i := len(idxs) - 1; i >= 0; i-- {
		c.removeAt(idxs[i])
	}
	return out
}

// removeAt deletes buf[idx] and shifts the read cursor back by one if
// the removed entry sat before the cursor. Caller holds mu.
func (c *Cache[T]) removeAt(idx int) {
	c.buf = append(c.buf[:idx], c.buf[idx+1:]...)
	if idx < c.readCursor {
		c.readCursor--
	}
}

// Read returns the sample at the read cursor without removing it,
// marks it Read, and advances the cursor. ok is false once the cursor
// reaches the end of the cache.
func (c *Cache[T]) Read() (data T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readCursor >= len(c.buf) {
		return data, false
	}
	s := c.buf[c.readCursor]
	s.markRead()
	c.readCursor++
	return s.Data, true
}

// ReadBatch returns up to max samples starting at the read cursor,
// marking each Read and advancing the cursor past them.
func (c *Cache[T]) ReadBatch(max int) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for (max <= 0 || len(out) < max) && c.readCursor < len(c.buf) {
		s := c.buf[c.readCursor]
		s.markRead()
		out = append(out, s.Data)
		c.readCursor++
	}
	return out
}

// ResetReadCursor rewinds the read cursor to the front of the cache,
// letting a subsequent Read/ReadBatch revisit already-read samples.
func (c *Cache[T]) ResetReadCursor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readCursor = 0
}

// Clear empties the cache and resets the read cursor. TotalReceived is
// unaffected.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
	c.readCursor = 0
}
