// Package fragment reassembles DATA_FRAG submessages into complete
// samples (C6, §4.6) and tracks which fragments are still missing so a
// reader can drive NACK_FRAG repair.
package fragment

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// key identifies one in-flight reassembly: a writer and the sequence
// number of the sample it is fragmenting.
type key struct {
	writer ddsid.GUID
	seq    ddsid.SequenceNumber
}

// entry holds the partial state of one fragmented sample. Fragment
// numbers are 1-indexed on the wire (§6.1); slot i in data/received
// holds fragment number i+1.
type entry struct {
	data       [][]byte
	received   []bool
	totalFrags uint16
	count      int
	firstSeen  time.Time
}

func newEntry(totalFrags uint16) *entry {
	return &entry{
		data:       make([][]byte, totalFrags),
		received:   make([]bool, totalFrags),
		totalFrags: totalFrags,
		firstSeen:  nowFunc(),
	}
}

// nowFunc is indirected so tests can simulate TTL expiry without
// sleeping past the capacity of short test timeouts.
var nowFunc = time.Now

// Buffer reassembles fragments for many (writer, seq) pairs concurrently.
// Eviction is two-layered (§4.6): an LRU cap bounds the number of
// in-flight reassemblies, and a TTL from first-seen evicts reassemblies
// that stall regardless of LRU pressure.
type Buffer struct {
	mu      sync.Mutex
	lru     *lru.Cache[key, *entry]
	ttl     time.Duration
	metrics metricsRecorder
}

// metricsRecorder is the subset of *metrics.FragmentMetrics a Buffer
// needs; kept as an interface here so this package has no dependency on
// the metrics package when no recorder is attached.
type metricsRecorder interface {
	IncCompleted()
	AddEvicted(int)
}

// New creates a Buffer holding at most capacity in-flight reassemblies,
// each abandoned after ttl has elapsed since its first fragment arrived.
func New(capacity int, ttl time.Duration) *Buffer {
	cache, err := lru.New[key, *entry](capacity)
	if err != nil {
		// capacity <= 0 from lru.New's validation; fall back to a
		// capacity of 1 rather than propagating a constructor error into
		// every caller of New.
		cache, _ = lru.New[key, *entry](1)
	}
	return &Buffer{lru: cache, ttl: ttl}
}

// SetMetrics attaches a recorder that observes reassembly completions and
// evictions. Safe to call once, before the buffer is shared across
// goroutines.
func (b *Buffer) SetMetrics(m metricsRecorder) { b.metrics = m }

// Insert stores one fragment. When it completes the sample, Insert
// returns the concatenated payload and removes the entry; otherwise it
// returns (nil, false).
func (b *Buffer) Insert(writer ddsid.GUID, seq ddsid.SequenceNumber, fragNum uint32, totalFrags uint16, data []byte) ([]byte, bool) {
	if fragNum == 0 || fragNum > uint32(totalFrags) {
		return nil, false
	}
	k := key{writer: writer, seq: seq}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lru.Get(k)
	if !ok {
		e = newEntry(totalFrags)
		b.lru.Add(k, e)
	}

	idx := fragNum - 1
	if !e.received[idx] {
		e.received[idx] = true
		e.data[idx] = append([]byte(nil), data...)
		e.count++
	}

	if e.count < int(e.totalFrags) {
		return nil, false
	}

	var total int
	for _, d := range e.data {
		total += len(d)
	}
	out := make([]byte, 0, total)
	for _, d := range e.data {
		out = append(out, d...)
	}
	b.lru.Remove(k)
	if b.metrics != nil {
		b.metrics.IncCompleted()
	}
	return out, true
}

// Missing returns the 1-indexed fragment numbers not yet received for
// (writer, seq), and the total fragment count, or ok=false if there is no
// in-flight reassembly for that key.
func (b *Buffer) Missing(writer ddsid.GUID, seq ddsid.SequenceNumber) (missing []uint32, total uint16, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, found := b.lru.Get(key{writer: writer, seq: seq})
	if !found {
		return nil, 0, false
	}
	for i, got := range e.received {
		if !got {
			missing = append(missing, uint32(i+1))
		}
	}
	return missing, e.totalFrags, true
}

// PendingCount returns the number of in-flight reassemblies.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len()
}

// EvictExpired removes every reassembly whose first fragment arrived more
// than ttl ago, and returns the number evicted.
func (b *Buffer) EvictExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := nowFunc()
	var stale []key
	for _, k := range b.lru.Keys() {
		e, ok := b.lru.Peek(k)
		if ok && now.Sub(e.firstSeen) > b.ttl {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		b.lru.Remove(k)
	}
	if b.metrics != nil && len(stale) > 0 {
		b.metrics.AddEvicted(len(stale))
	}
	return len(stale)
}
