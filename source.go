package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// BufferSource acquires and releases the raw bytes backing a pool.
type BufferSource interface {
	Acquire(size int) ([]byte, error) // Acquire returns a zeroed buffer of exactly size bytes.
	Release(b []byte) error           // Release returns a buffer obtained from Acquire.
}

// MmapSource maps anonymous memory that is not part of the Go heap,
// so large pools add nothing for the GC to scan.
type MmapSource struct{}

func (MmapSource) Acquire(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot map %d bytes", size)
	}
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return data, nil
}

func (MmapSource) Release(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b[:cap(b)])
}

// HeapSource allocates buffers on the Go heap.
type HeapSource struct{}

func (HeapSource) Acquire(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot allocate %d bytes", size)
	}
	return make([]byte, size), nil
}

func (HeapSource) Release(b []byte) error {
	return nil
}

// RecyclingSource keeps released buffers for reuse by later Acquire calls of
// the same size, which makes repeatedly re-initializing a pool cheap.
// It is safe for concurrent use, so one source can back many pools.
type RecyclingSource struct {
	mu     sync.Mutex
	source BufferSource
	free   map[int][][]byte // Released buffers by size.

	// freeThreshold is the number of free buffers per size the source can hold
	// before it starts releasing memory to the underlying source.
	freeThreshold int
}

// NewRecyclingSource wraps source. A freeThreshold <= 0 keeps every released buffer.
func NewRecyclingSource(source BufferSource, freeThreshold int) *RecyclingSource {
	return &RecyclingSource{
		source:        source,
		free:          make(map[int][][]byte),
		freeThreshold: freeThreshold,
	}
}

func (s *RecyclingSource) Acquire(size int) ([]byte, error) {
	s.mu.Lock()
	if list := s.free[size]; len(list) > 0 {
		n := len(list) - 1
		b := list[n]
		s.free[size] = list[:n]
		s.mu.Unlock()
		clear(b)
		return b, nil
	}
	s.mu.Unlock()
	return s.source.Acquire(size)
}

func (s *RecyclingSource) Release(b []byte) error {
	if b == nil {
		return nil
	}
	b = b[:cap(b)]

	var toRelease [][]byte
	s.mu.Lock()
	size := len(b)
	s.free[size] = append(s.free[size], b)
	s.free[size], toRelease = releaseBuffers(s.free[size], s.freeThreshold)
	s.mu.Unlock()

	// Release outside of the lock to avoid blocking other operations.
	var errs []error
	for _, buf := range toRelease {
		if err := s.source.Release(buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every buffer held for reuse.
func (s *RecyclingSource) Close() error {
	s.mu.Lock()
	free := s.free
	s.free = make(map[int][][]byte)
	s.mu.Unlock()

	var errs []error
	for _, list := range free {
		for _, b := range list {
			if err := s.source.Release(b); err != nil {
				slog.Error("failed to release buffer", "size", len(b), "error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// numFree returns the number of buffers of the given size held for reuse.
// It is primarily intended as helper method in tests.
func (s *RecyclingSource) numFree(size int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free[size])
}

// releaseBuffers trims the free list if it exceeds the given threshold.
// It returns the updated list and the buffers that were removed and should be released.
func releaseBuffers[B any](freeList []B, threshold int) (newList []B, toRelease []B) {
	if threshold > 0 && len(freeList) > threshold {
		// Release half of the free buffers to prevent thrashing around the threshold.
		n := len(freeList) / 2
		return freeList[n:], freeList[:n]
	}
	return freeList, nil
}
