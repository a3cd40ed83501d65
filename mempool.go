// Package mempool implements a word-addressable memory pool.
// It services allocation and release requests against a managed byte buffer,
// tracks free regions (holes) and delegates placement to a pluggable [Strategy].
// The pool state can be inspected as a textual map dump and as a bit-packed
// occupancy bitmap.
//
// A Pool is not safe for concurrent use; callers sharing one across goroutines
// must serialize access themselves.
package mempool

import (
	"errors"

	"github.com/holmberd/go-mempool/internal/holes"
)

var (
	ErrCapacityExceeded = errors.New("mempool: capacity exceeded")
	ErrInvalidSize      = errors.New("mempool: invalid size")
	ErrNotInitialized   = errors.New("mempool: pool is not initialized")
	ErrNoFit            = errors.New("mempool: no hole large enough")
	ErrBadStrategy      = errors.New("mempool: strategy chose an unusable hole")
	ErrAddrOutOfRange   = errors.New("mempool: address out of range")
	ErrUnaligned        = errors.New("mempool: address not word aligned")
	ErrInvalidFree      = errors.New("mempool: address is not an outstanding allocation")
	ErrSinkFailure      = errors.New("mempool: cannot write memory map")
	ErrSourceFailure    = errors.New("mempool: cannot acquire buffer")
	ErrCorrupted        = errors.New("mempool: pool is corrupted")
)

// Addr is an absolute address inside a pool's buffer.
type Addr uintptr

// Hole is a contiguous free region; Offset and Length are in words.
type Hole = holes.Hole
