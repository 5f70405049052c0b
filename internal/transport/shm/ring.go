package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Layout constants (§4.10). ControlSize and the slot header are each
// cache-line sized so concurrent readers and the single writer never
// false-share a line.
const (
	ControlSize     = 64
	SlotHeaderSize  = 64
	SlotPayloadSize = 4096
	SlotSize        = SlotHeaderSize + SlotPayloadSize
)

// RingSegmentSize returns the total mmap size needed for a ring of the
// given capacity (must be a power of two).
func RingSegmentSize(capacity int) int {
	return ControlSize + capacity*SlotSize
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// control block layout within the first ControlSize bytes:
//
//	[0:4]  capacity (u32)
//	[4:8]  slot payload size (u32)
//	[8:16] head (u64, atomic, next sequence to be published)

func capacityPtr(data []byte) *uint32 { return (*uint32)(unsafe.Pointer(&data[0])) }
func payloadSizePtr(data []byte) *uint32 { return (*uint32)(unsafe.Pointer(&data[4])) }
func headPtr(data []byte) *uint64       { return (*uint64)(unsafe.Pointer(&data[8])) }

// slot layout, SlotSize bytes starting at ControlSize+idx*SlotSize:
//
//	[0:8]  seq (u64, atomic): (n<<1)|1 while being written, n<<1 once committed
//	[8:12] len (u32)
//	[64:]  payload (SlotPayloadSize bytes)

func slotOffset(idx uint64) int { return ControlSize + int(idx)*SlotSize }

func seqPtr(data []byte, idx uint64) *uint64 {
	off := slotOffset(idx)
	return (*uint64)(unsafe.Pointer(&data[off]))
}

func lenPtr(data []byte, idx uint64) *uint32 {
	off := slotOffset(idx) + 8
	return (*uint32)(unsafe.Pointer(&data[off]))
}

func payloadSlice(data []byte, idx uint64) []byte {
	off := slotOffset(idx) + SlotHeaderSize
	return data[off : off+SlotPayloadSize]
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// Writer owns a shared-memory ring segment and is the sole producer
// (§4.10, §5 "SHM ring is SPSC per writer").
type Writer struct {
	seg      *Segment
	capacity uint64
	mask     uint64
	nextSeq  uint64
	notify   *Notifier
	bucket   int
}

// CreateRing allocates a new named ring segment and returns a Writer for
// it. capacity must be a power of two.
func CreateRing(name string, capacity int, notify *Notifier, bucket int) (*Writer, error) {
	if !isPowerOfTwo(capacity) {
		return nil, fmt.Errorf("shm: capacity must be a power of two, got %d", capacity)
	}
	seg, err := Create(name, RingSegmentSize(capacity))
	if err != nil {
		return nil, err
	}
	atomic.StoreUint32(capacityPtr(seg.data), uint32(capacity))
	atomic.StoreUint32(payloadSizePtr(seg.data), SlotPayloadSize)
	atomic.StoreUint64(headPtr(seg.data), 0)
	return &Writer{seg: seg, capacity: uint64(capacity), mask: uint64(capacity - 1), notify: notify, bucket: bucket}, nil
}

// Push writes data into the next slot and publishes it. It returns an
// error for payloads larger than SlotPayloadSize rather than truncating
// (§4.10).
func (w *Writer) Push(data []byte) error {
	if len(data) > SlotPayloadSize {
		return fmt.Errorf("shm: payload %d bytes exceeds slot capacity %d", len(data), SlotPayloadSize)
	}
	seq := w.nextSeq
	idx := seq & w.mask

	atomic.StoreUint64(seqPtr(w.seg.data, idx), (seq<<1)|1)
	atomic.StoreUint32(lenPtr(w.seg.data, idx), uint32(len(data)))
	copy(payloadSlice(w.seg.data, idx), data)
	atomic.StoreUint64(seqPtr(w.seg.data, idx), seq<<1) // Release: commit
	atomic.StoreUint64(headPtr(w.seg.data), seq+1)       // Release: publish

	if w.notify != nil {
		w.notify.Wake(w.bucket)
	}
	w.nextSeq = seq + 1
	return nil
}

// Sequence returns the next sequence number to be written.
func (w *Writer) Sequence() uint64 { return w.nextSeq }

// Capacity returns the ring's slot count.
func (w *Writer) Capacity() int { return int(w.capacity) }

// Close releases the writer's mapping without unlinking the segment (a
// still-attached reader may continue consuming stale data until it
// notices the writer is gone via its own liveliness mechanism).
func (w *Writer) Close() error { return w.seg.Close() }

// Unlink removes the segment's backing file; call after all readers have
// detached.
func (w *Writer) Unlink() error { return Unlink(w.seg.Name()) }

// ReaderMetrics counts notable events for diagnostics (§4.10).
type ReaderMetrics struct {
	MessagesRead atomic.Uint64
	Overruns     atomic.Uint64
	Corrupted    atomic.Uint64
	EmptyPolls   atomic.Uint64
}

// Reader attaches to an existing ring segment. Multiple readers may
// attach to the same segment, each tracking its own cursor (§5).
type Reader struct {
	seg      *Segment
	capacity uint64
	mask     uint64
	nextSeq  uint64
	notify   *Notifier
	bucket   int
	Metrics  ReaderMetrics
}

// Attach opens an existing ring segment of the given capacity and starts
// reading from the writer's current head (skipping data published before
// attach). Use AttachFrom to start from a specific sequence (e.g. replay).
func Attach(name string, capacity int, notify *Notifier, bucket int) (*Reader, error) {
	seg, err := Open(name, RingSegmentSize(capacity))
	if err != nil {
		return nil, err
	}
	if got := atomic.LoadUint32(capacityPtr(seg.data)); got != uint32(capacity) {
		seg.Close()
		return nil, fmt.Errorf("shm: capacity mismatch: segment has %d, expected %d", got, capacity)
	}
	head := atomic.LoadUint64(headPtr(seg.data))
	return &Reader{seg: seg, capacity: uint64(capacity), mask: uint64(capacity - 1), nextSeq: head, notify: notify, bucket: bucket}, nil
}

// AttachFrom is Attach but starts reading from an explicit sequence.
func AttachFrom(name string, capacity int, notify *Notifier, bucket int, startSeq uint64) (*Reader, error) {
	r, err := Attach(name, capacity, notify, bucket)
	if err != nil {
		return nil, err
	}
	r.nextSeq = startSeq
	return r, nil
}

// TryPop copies the next message into buf without blocking. ok is false
// when no data is available, the reader has fallen behind and overrun
// (it jumps to the latest readable position and the caller should retry),
// or the read detected a torn slot (§4.10).
func (r *Reader) TryPop(buf []byte) (n int, ok bool) {
	head := atomic.LoadUint64(headPtr(r.seg.data))

	if satSub(head, r.nextSeq) > r.capacity {
		r.nextSeq = satSub(head, 1)
		r.Metrics.Overruns.Add(1)
		return 0, false
	}
	if r.nextSeq >= head {
		r.Metrics.EmptyPolls.Add(1)
		return 0, false
	}

	expected := r.nextSeq
	idx := expected & r.mask
	want := expected << 1

	seq1 := atomic.LoadUint64(seqPtr(r.seg.data, idx))
	if seq1 != want {
		return 0, false
	}

	length := int(atomic.LoadUint32(lenPtr(r.seg.data, idx)))
	if length > len(buf) {
		r.Metrics.Corrupted.Add(1)
		return 0, false
	}
	copy(buf, payloadSlice(r.seg.data, idx)[:length])

	seq2 := atomic.LoadUint64(seqPtr(r.seg.data, idx))
	if seq2 != seq1 {
		r.Metrics.Corrupted.Add(1)
		return 0, false
	}

	r.nextSeq = expected + 1
	r.Metrics.MessagesRead.Add(1)
	return length, true
}

// Sequence returns the reader's next-expected sequence number.
func (r *Reader) Sequence() uint64 { return r.nextSeq }

// Close detaches the reader from the segment.
func (r *Reader) Close() error { return r.seg.Close() }
