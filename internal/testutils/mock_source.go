package testutils

import (
	"sync/atomic"
)

// MockSource is a heap-backed buffer source that counts its calls.
// Setting AcquireErr or ReleaseErr makes the corresponding call fail.
type MockSource struct {
	AcquireErr error
	ReleaseErr error

	// ShortBy makes Acquire return buffers this many bytes shorter than requested.
	ShortBy int

	acquireCalls atomic.Int64
	releaseCalls atomic.Int64
}

func (s *MockSource) Acquire(size int) ([]byte, error) {
	s.acquireCalls.Add(1)
	if s.AcquireErr != nil {
		return nil, s.AcquireErr
	}
	return make([]byte, max(size-s.ShortBy, 0)), nil
}

func (s *MockSource) Release(b []byte) error {
	s.releaseCalls.Add(1)
	return s.ReleaseErr
}

func (s *MockSource) AcquireCalls() int64 {
	return s.acquireCalls.Load()
}

func (s *MockSource) ReleaseCalls() int64 {
	return s.releaseCalls.Load()
}

func (s *MockSource) BuffersInUse() int64 {
	return s.AcquireCalls() - s.ReleaseCalls()
}

func (s *MockSource) Reset() {
	s.acquireCalls.Store(0)
	s.releaseCalls.Store(0)
}
