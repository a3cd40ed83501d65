package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/holmberd/go-mempool/internal/holes"
)

type poolState int

const (
	stateUninitialized poolState = iota
	stateReady

	// stateCorrupted indicates internal corruption.
	// Allocate and Free are disabled until the next Initialize.
	stateCorrupted
)

func (s poolState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateReady:
		return "ready"
	case stateCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("poolState(%d)", s)
	}
}

// Pool is a word-addressable memory pool.
//
// Offsets and lengths are tracked in words. The pool owns its buffer, its hole
// table and its offset index exclusively; nothing is shared between pools.
type Pool struct {
	logger   *slog.Logger
	source   BufferSource
	strategy Strategy
	wordSize int
	maxWords int
	state    poolState

	buf      []byte
	base     Addr
	capacity int // Capacity in words.

	holes *holes.Table
	index *holes.Index

	// live maps the offset of every outstanding allocation to its length in words.
	live map[int]int
}

// New creates an uninitialized pool. Call Initialize before allocating.
func New(config Config, strategy Strategy) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: strategy is required", ErrBadStrategy)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:   logger,
		source:   config.Source,
		strategy: strategy,
		wordSize: config.WordSize,
		maxWords: config.MaxWords,
		holes:    holes.NewTable(),
		index:    holes.NewIndex(),
	}, nil
}

// Initialize (re)creates the pool with a capacity of words, discarding any prior state.
// On error the pool is left uninitialized.
func (p *Pool) Initialize(words int) error {
	p.release()

	if words > p.maxWords {
		p.logger.Error("Pool capacity exceeded", "words", words, "maxWords", p.maxWords)
		return fmt.Errorf("%w: %d words requested, limit is %d", ErrCapacityExceeded, words, p.maxWords)
	}
	if words < 1 {
		return fmt.Errorf("%w: pool must hold at least one word, got %d", ErrInvalidSize, words)
	}

	size := words * p.wordSize
	buf, err := p.source.Acquire(size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceFailure, err)
	}
	if len(buf) != size {
		err := fmt.Errorf("%w: got %d bytes, want %d", ErrSourceFailure, len(buf), size)
		if rerr := p.source.Release(buf); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}

	p.buf = buf
	p.base = Addr(unsafe.Pointer(&buf[0]))
	p.capacity = words
	p.holes.Reset(words)
	p.index.Reset(words)
	p.live = make(map[int]int)
	p.state = stateReady
	p.logger.Debug("Pool initialized", "words", words, "wordSize", p.wordSize)
	return nil
}

// Shutdown releases the buffer and clears all state.
// It is a no-op on a pool that holds no buffer.
func (p *Pool) Shutdown() {
	if p.buf == nil {
		return
	}
	p.release()
	p.logger.Debug("Pool shut down")
}

// release returns the buffer to the source and resets the pool to its uninitialized state.
func (p *Pool) release() {
	if p.buf != nil {
		if err := p.source.Release(p.buf); err != nil {
			p.logger.Error("Failed to release pool buffer", "bytes", len(p.buf), "error", err)
		}
	}
	p.buf = nil
	p.base = 0
	p.capacity = 0
	p.holes.Clear()
	p.index.Reset(0)
	p.live = nil
	p.state = stateUninitialized
}

// setCorrupted disables the pool and logs the provided error.
// It returns err wrapped with ErrCorrupted.
func (p *Pool) setCorrupted(err error) error {
	p.state = stateCorrupted
	p.logger.Error(
		"Unrecoverable pool corruption detected. Allocate and Free are disabled until Initialize",
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrCorrupted, err)
}

func (p *Pool) checkUsable() error {
	switch p.state {
	case stateReady:
		return nil
	case stateCorrupted:
		return ErrCorrupted
	default:
		return ErrNotInitialized
	}
}

// SetStrategy replaces the placement strategy used by subsequent allocations.
// A nil strategy is ignored.
func (p *Pool) SetStrategy(s Strategy) {
	if s == nil {
		p.logger.Warn("Ignoring nil allocation strategy")
		return
	}
	p.strategy = s
}

// Allocate reserves sizeInBytes bytes and returns the address of the first byte.
// The size is converted to words by truncating division, so callers should
// request multiples of the word size. The error is ErrNoFit if no hole is large
// enough, in which case the pool is unchanged.
func (p *Pool) Allocate(sizeInBytes int) (Addr, error) {
	if err := p.checkUsable(); err != nil {
		return 0, err
	}
	words := sizeInBytes / p.wordSize
	if words <= 0 {
		return 0, fmt.Errorf(
			"%w: %d bytes is less than one %d-byte word", ErrInvalidSize, sizeInBytes, p.wordSize,
		)
	}

	offset, ok := p.strategy.Choose(words, p.holes.Holes())
	if !ok {
		p.logger.Debug("No hole large enough", "words", words)
		return 0, ErrNoFit
	}
	if _, err := p.holes.Take(offset, words); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadStrategy, err)
	}
	p.index.Add(offset + words)
	p.live[offset] = words

	p.logger.Debug("Allocated", "offset", offset, "words", words)
	return p.addr(offset), nil
}

// Free releases the allocation starting at addr and merges the freed region
// with adjacent holes. Freeing on an uninitialized pool is a no-op.
func (p *Pool) Free(addr Addr) error {
	if p.state == stateUninitialized {
		return nil
	}
	if err := p.checkUsable(); err != nil {
		return err
	}
	offset, err := p.offset(addr)
	if err != nil {
		return err
	}
	words, ok := p.live[offset]
	if !ok {
		return fmt.Errorf("%w: no allocation starts at offset %d", ErrInvalidFree, offset)
	}

	length, ok := p.index.RegionLength(offset)
	if !ok {
		return p.setCorrupted(fmt.Errorf("allocation at offset %d missing from offset index", offset))
	}
	if length != words {
		return p.setCorrupted(
			fmt.Errorf("allocation at offset %d spans %d words, index reports %d", offset, words, length),
		)
	}
	merged, absorbed, err := p.holes.Insert(Hole{Offset: offset, Length: length})
	if err != nil {
		return p.setCorrupted(err)
	}
	for _, o := range absorbed {
		p.index.Remove(o)
	}
	delete(p.live, offset)

	p.logger.Debug("Freed", "offset", offset, "words", length, "hole", merged)
	return nil
}

// Bytes returns the memory of the outstanding allocation starting at addr.
// The slice is only valid until the allocation is freed or the pool shut down.
func (p *Pool) Bytes(addr Addr) ([]byte, error) {
	if err := p.checkUsable(); err != nil {
		return nil, err
	}
	offset, err := p.offset(addr)
	if err != nil {
		return nil, err
	}
	words, ok := p.live[offset]
	if !ok {
		return nil, fmt.Errorf("%w: no allocation starts at offset %d", ErrInvalidFree, offset)
	}
	start := offset * p.wordSize
	end := start + words*p.wordSize
	return p.buf[start:end:end], nil
}

// addr converts a word offset into an absolute address.
func (p *Pool) addr(offset int) Addr {
	return p.base + Addr(offset*p.wordSize)
}

// offset converts an absolute address into a word offset.
// The error is ErrAddrOutOfRange if addr lies outside the buffer and
// ErrUnaligned if it does not fall on a word boundary.
func (p *Pool) offset(addr Addr) (int, error) {
	limit := p.base + Addr(len(p.buf))
	if addr < p.base || addr >= limit {
		return 0, fmt.Errorf("%w: %#x not in [%#x, %#x)", ErrAddrOutOfRange, addr, p.base, limit)
	}
	delta := int(addr - p.base)
	if delta%p.wordSize != 0 {
		return 0, fmt.Errorf("%w: %#x is %d bytes into a word", ErrUnaligned, addr, delta%p.wordSize)
	}
	return delta / p.wordSize, nil
}

// WordSize returns the number of bytes per word.
func (p *Pool) WordSize() int {
	return p.wordSize
}

// MemoryStart returns the address of the first byte of the buffer, or 0 if uninitialized.
func (p *Pool) MemoryStart() Addr {
	return p.base
}

// MemoryLimit returns the capacity in bytes.
func (p *Pool) MemoryLimit() int {
	return len(p.buf)
}

// Capacity returns the capacity in words.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Verify checks the internal bookkeeping of the pool and returns every
// inconsistency found, or nil.
func (p *Pool) Verify() error {
	if p.state == stateUninitialized {
		if p.holes.Len() != 0 || p.index.Len() != 0 || len(p.live) != 0 {
			return fmt.Errorf("%w: uninitialized pool holds state", holes.ErrInconsistent)
		}
		return nil
	}

	errs := []error{holes.Check(p.holes, p.index, p.capacity)}
	used := 0
	p.index.Regions(func(offset, length int) bool {
		if _, isHole := p.holes.Get(offset); isHole {
			return true
		}
		words, ok := p.live[offset]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf(
				"%w: region [%d, %d] is neither a hole nor an allocation", holes.ErrInconsistent, offset, length,
			))
		case words != length:
			errs = append(errs, fmt.Errorf(
				"%w: allocation at %d spans %d words, region is %d", holes.ErrInconsistent, offset, words, length,
			))
		}
		return true
	})
	for offset, words := range p.live {
		if !p.index.Contains(offset) {
			errs = append(errs, fmt.Errorf("%w: allocation at %d missing from index", holes.ErrInconsistent, offset))
		}
		used += words
	}
	if free := p.holes.FreeWords(); free+used != p.capacity {
		errs = append(errs, fmt.Errorf(
			"%w: %d free + %d used words, capacity %d", holes.ErrInconsistent, free, used, p.capacity,
		))
	}
	return errors.Join(errs...)
}
