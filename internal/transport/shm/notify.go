package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix does not expose a futex wrapper directly, so the
// raw syscall numbers and op codes are pinned here per the Linux ABI
// (include/uapi/linux/futex.h). Wake and Wait use the shared (non-private)
// futex ops: FUTEX_PRIVATE_FLAG would restrict waiters to this process's
// address space, while the notify word lives in an mmap'd segment that
// several processes attach to.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

// NotifyBuckets is the number of independent wake words carried by one
// notify segment, letting several rings share a single futex segment by
// hashing into a bucket (§4.10).
const NotifyBuckets = 64

const notifySegmentSize = NotifyBuckets * 4

// Notifier is a small shared-memory segment of futex words used to wake
// readers blocked on an otherwise-empty ring without spinning. It is
// separate from the ring segment so several rings (e.g. one per reader
// history-depth class) can share one notify segment.
type Notifier struct {
	seg *Segment
}

// CreateNotifier allocates a new named notify segment.
func CreateNotifier(name string) (*Notifier, error) {
	seg, err := Create(name, notifySegmentSize)
	if err != nil {
		return nil, err
	}
	return &Notifier{seg: seg}, nil
}

// AttachNotifier attaches to an existing notify segment.
func AttachNotifier(name string) (*Notifier, error) {
	seg, err := Open(name, notifySegmentSize)
	if err != nil {
		return nil, err
	}
	return &Notifier{seg: seg}, nil
}

func (n *Notifier) word(bucket int) *uint32 {
	b := bucket % NotifyBuckets
	if b < 0 {
		b += NotifyBuckets
	}
	return (*uint32)(unsafe.Pointer(&n.seg.data[b*4]))
}

// Wake increments the bucket's generation counter and wakes any futex
// waiters blocked on it.
func (n *Notifier) Wake(bucket int) {
	w := n.word(bucket)
	atomic.AddUint32(w, 1)
	_, _, _ = unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(w)), uintptr(futexWake), uintptr(^uint32(0)))
}

// Wait blocks until Wake is called on bucket, the generation counter
// changes from the value last observed, or timeout elapses. It returns
// promptly (without syscalling) if the generation has already advanced
// past lastSeen, so callers should re-check their own readiness
// condition (e.g. TryPop) after Wait returns regardless of the bool.
func (n *Notifier) Wait(bucket int, lastSeen uint32, timeout time.Duration) (newSeen uint32, woke bool) {
	w := n.word(bucket)
	cur := atomic.LoadUint32(w)
	if cur != lastSeen {
		return cur, true
	}

	var ts *unix.Timespec
	if timeout > 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeout / time.Second),
			Nsec: int64(timeout % time.Second),
		}
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(w)), uintptr(futexWait), uintptr(cur), uintptr(unsafe.Pointer(ts)), 0, 0)
	_ = errno // EAGAIN (word changed before we slept) and ETIMEDOUT are both fine; caller re-checks
	return atomic.LoadUint32(w), atomic.LoadUint32(w) != cur
}

// Close unmaps the notify segment.
func (n *Notifier) Close() error { return n.seg.Close() }

// UnlinkNotifier removes a named notify segment's backing file.
func UnlinkNotifier(name string) error { return Unlink(name) }
