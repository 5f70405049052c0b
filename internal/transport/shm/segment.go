// Package shm implements the same-host SPSC shared-memory ring transport
// (C10, §4.10): a writer-owned mmap'd segment that one or more readers
// attach to, synchronized via sequence-tagged slots and futex wakeups.
package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is the directory backing named segments. Linux tmpfs-backed
// /dev/shm gives POSIX shared-memory semantics without a dedicated
// shm_open wrapper; golang.org/x/sys/unix supplies Mmap/Munmap on the
// resulting fd.
var shmDir = "/dev/shm"

func segmentPath(name string) string {
	return filepath.Join(shmDir, name)
}

// Segment is one mmap'd shared-memory region.
type Segment struct {
	file *os.File
	data []byte
	name string
}

// Create allocates and zero-initializes a new named segment of the given
// size, owned by the caller (typically a ring Writer).
func Create(name string, size int) (*Segment, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Segment{file: f, data: data, name: name}, nil
}

// Open attaches to an existing named segment of the given size.
func Open(name string, size int) (*Segment, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Segment{file: f, data: data, name: name}, nil
}

// Close unmaps and closes the segment's file descriptor. It does not
// remove the backing file; call Unlink for that.
func (s *Segment) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", s.name, err)
	}
	return s.file.Close()
}

// Unlink removes a named segment's backing file.
func Unlink(name string) error {
	return os.Remove(segmentPath(name))
}

// Name returns the segment's name.
func (s *Segment) Name() string { return s.name }
