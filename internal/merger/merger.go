// Package merger implements the per-writer topic merger (C3, §4.3): the
// fan-out that pushes every published IndexEntry to all registered reader
// rings, with an optional transient-local replay hook for late joiners.
package merger

import (
	"sync"

	"github.com/hdds-go/hdds/internal/history"
	"github.com/hdds-go/hdds/internal/ring"
	"github.com/hdds-go/hdds/internal/slab"
)

// Registration is the per-reader entry a Merger fans out to.
type registration struct {
	ring   *ring.Ring
	notify func(ring.Entry)
}

// Token represents one reader's registration with a Merger. Dropping the
// token (calling Unregister) performs the unregister transaction, per the
// Cyclic-ownership design note in §9 — the merger never holds a strong
// back-reference the reader would need to tear down itself.
type Token struct {
	m    *Merger
	key  *registration
}

// Unregister removes the reader's ring from this merger's fan-out set.
func (t Token) Unregister() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i, r := range t.m.readers {
		if r == t.key {
			t.m.readers = append(t.m.readers[:i], t.m.readers[i+1:]...)
			return
		}
	}
}

// Merger fans out one writer's samples to every matched reader's ring.
type Merger struct {
	mu      sync.RWMutex
	readers []*registration

	slab *slab.Pool

	historyEnabled bool
	history        *history.Cache
}

// New creates a merger backed by the given slab pool, used to replay
// cached history into a late-joining reader's ring.
func New(pool *slab.Pool) *Merger {
	return &Merger{slab: pool}
}

// EnableHistory attaches a history cache and marks this merger as serving
// a transient-local (or persistent) writer, so new readers receive replay
// (§4.3, §4.8).
func (m *Merger) EnableHistory(h *history.Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyEnabled = true
	m.history = h
}

// RegisterReader attaches a reader's ring to this merger's fan-out set. If
// history replay is enabled, the reader receives every currently cached
// sample before RegisterReader returns, ahead of any subsequent Push
// (§4.8: "the writer replays all cached samples ... before any new DATA is
// sent").
func (m *Merger) RegisterReader(r *ring.Ring, notify func(ring.Entry)) Token {
	reg := &registration{ring: r, notify: notify}

	m.mu.Lock()
	m.readers = append(m.readers, reg)
	enabled, h := m.historyEnabled, m.history
	m.mu.Unlock()

	if enabled && h != nil {
		m.replay(reg, h)
	}

	return Token{m: m, key: reg}
}

func (m *Merger) replay(reg *registration, h *history.Cache) {
	for _, entry := range h.SnapshotPayloads() {
		handle, buf, ok := m.slab.Reserve(len(entry.Payload))
		if !ok {
			// Backpressure on replay is non-fatal (§4.14): skip this
			// historical sample for this reader rather than block.
			continue
		}
		copy(buf, entry.Payload)
		m.slab.Commit(handle, len(entry.Payload))

		ie := ring.Entry{
			Seq:         entry.Seq,
			Handle:      handle,
			Len:         uint32(len(entry.Payload)),
			TimestampNs: entry.TimestampNs,
		}
		if reg.ring.Push(ie) && reg.notify != nil {
			reg.notify(ie)
		}
	}
}

// Push copies the entry into every registered reader ring that is still
// live (§4.3). It does not touch the history cache; the writer inserts
// there itself. It is not atomic across rings: each ring observes the same ordering, but
// cross-ring interleaving relative to concurrent pushes is unspecified
// (§5).
func (m *Merger) Push(e ring.Entry) {
	m.mu.RLock()
	readers := make([]*registration, len(m.readers))
	copy(readers, m.readers)
	m.mu.RUnlock()

	for _, reg := range readers {
		if reg.ring.Push(e) && reg.notify != nil {
			reg.notify(e)
		}
	}
}

// ReaderCount reports the number of currently registered readers; used by
// QoS-incompatibility tests (S5) to assert zero matches.
func (m *Merger) ReaderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readers)
}
