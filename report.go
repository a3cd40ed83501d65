package mempool

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

const bitmapHeaderSize = 2 // Payload length in bytes (uint16, little-endian).

// Stats represents pool occupancy stats.
type Stats struct {
	CapacityWords int // Capacity of the pool.
	FreeWords     int // Total length of all holes.
	UsedWords     int // Total length of all outstanding allocations.
	Holes         int // Number of holes.
	LargestHole   int // Length of the largest hole.
	Allocations   int // Number of outstanding allocations.
}

// Fragmentation returns the external fragmentation ratio: the share of free
// words that lie outside the largest hole. It is 0 when free space is contiguous.
func (s Stats) Fragmentation() float64 {
	if s.FreeWords == 0 {
		return 0
	}
	return 1 - float64(s.LargestHole)/float64(s.FreeWords)
}

// Stats returns the pool's occupancy stats.
func (p *Pool) Stats() Stats {
	s := Stats{
		CapacityWords: p.capacity,
		FreeWords:     p.holes.FreeWords(),
		Holes:         p.holes.Len(),
		Allocations:   len(p.live),
	}
	if largest, ok := p.holes.Largest(); ok {
		s.LargestHole = largest.Length
	}
	for _, words := range p.live {
		s.UsedWords += words
	}
	return s
}

// Holes returns a snapshot of the holes in ascending offset order.
func (p *Pool) Holes() []Hole {
	return p.holes.Holes()
}

// List returns the hole snapshot in its flat form: the number of holes
// followed by an (offset, length) pair per hole, in ascending offset order.
// It returns nil if the pool is not initialized.
func (p *Pool) List() []int {
	if p.buf == nil {
		return nil
	}
	holes := p.holes.Holes()
	list := make([]int, 1, 1+2*len(holes))
	list[0] = len(holes)
	for _, h := range holes {
		list = append(list, h.Offset, h.Length)
	}
	return list
}

// WriteMemoryMap writes the holes in ascending offset order as
// "[offset, length]" entries joined by " - ".
func (p *Pool) WriteMemoryMap(w io.Writer) error {
	_, err := p.holes.WriteTo(w)
	return err
}

// DumpMemoryMap writes the memory map to the named file, creating or truncating it.
// The error wraps ErrSinkFailure if the file cannot be opened or written; a
// partially written file is not removed.
func (p *Pool) DumpMemoryMap(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		p.logger.Error("Failed to open memory map file", "name", name, "error", err)
		return fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}
	if err := p.WriteMemoryMap(f); err != nil {
		f.Close()
		p.logger.Error("Failed to write memory map file", "name", name, "error", err)
		return fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}
	return nil
}

// Bitmap returns the occupancy of every word as a bit-packed record:
// 0 for a free word, 1 for an allocated one.
//
// The record starts with a 2-byte header holding the payload length in bytes
// as a little-endian uint16; for payloads under 256 bytes the second header
// byte is therefore always 0. Bit q (least significant first) of payload
// byte p describes word 8p+q, and the final byte is padded with 0 bits.
// It returns nil if the pool is not initialized.
func (p *Pool) Bitmap() []byte {
	if p.buf == nil {
		return nil
	}
	used := bitset.New(uint(p.capacity))
	p.index.Regions(func(offset, length int) bool {
		if _, isHole := p.holes.Get(offset); !isHole {
			for w := offset; w < offset+length; w++ {
				used.Set(uint(w))
			}
		}
		return true
	})

	n := (p.capacity + 7) / 8
	bitmap := make([]byte, bitmapHeaderSize+n)
	binary.LittleEndian.PutUint16(bitmap, uint16(n))
	payload := bitmap[bitmapHeaderSize:]
	for w, ok := used.NextSet(0); ok; w, ok = used.NextSet(w + 1) {
		payload[w/8] |= 1 << (w % 8)
	}
	return bitmap
}

// Fingerprint returns a hash of the pool layout: word size, capacity and holes.
// Pools with identical layouts have identical fingerprints.
func (p *Pool) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [binary.MaxVarintLen64]byte
	write := func(v int) {
		n := binary.PutUvarint(buf[:], uint64(v))
		d.Write(buf[:n])
	}
	write(p.wordSize)
	write(p.capacity)
	for _, v := range p.List() {
		write(v)
	}
	return d.Sum64()
}
