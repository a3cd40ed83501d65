package mempool

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

// referenceBitmap builds the occupancy record by emitting one character per word,
// reversing the padded sequence and storing its 8-bit groups back to front.
func referenceBitmap(t *testing.T, p *Pool) []byte {
	t.Helper()
	var bits []byte
	p.index.Regions(func(offset, length int) bool {
		c := byte('1')
		if _, isHole := p.holes.Get(offset); isHole {
			c = '0'
		}
		for range length {
			bits = append(bits, c)
		}
		return true
	})
	for len(bits)%8 != 0 {
		bits = append(bits, '0')
	}
	for i, j := 0, len(bits)-1; i < j; i, j = i+1, j-1 {
		bits[i], bits[j] = bits[j], bits[i]
	}

	n := len(bits) / 8
	out := make([]byte, 2+n)
	out[0], out[1] = byte(n), byte(n>>8)
	for k := range n {
		v, err := strconv.ParseUint(string(bits[8*k:8*k+8]), 2, 8)
		if err != nil {
			t.Fatal(err)
		}
		out[2+n-1-k] = byte(v)
	}
	return out
}

func TestWriteMemoryMap(t *testing.T) {
	p, _ := newTestPool(t, 8, BestFit)
	mustInitialize(t, p, 16)
	addrs := make([]Addr, 4)
	for i := range addrs {
		addrs[i] = mustAllocate(t, p, 4)
	}
	mustFree(t, p, addrs[0])
	mustFree(t, p, addrs[2])

	var buf bytes.Buffer
	if err := p.WriteMemoryMap(&buf); err != nil {
		t.Fatalf("failed to write memory map: %v", err)
	}
	if want := "[0, 4] - [8, 4]"; buf.String() != want {
		t.Errorf("expected map %q, got %q", want, buf.String())
	}

	t.Run("Single hole", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 10)
		var buf bytes.Buffer
		p.WriteMemoryMap(&buf)
		if want := "[0, 10]"; buf.String() != want {
			t.Errorf("expected map %q, got %q", want, buf.String())
		}
	})

	t.Run("Full pool", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 10)
		mustAllocate(t, p, 10)
		var buf bytes.Buffer
		p.WriteMemoryMap(&buf)
		if buf.Len() != 0 {
			t.Errorf("expected an empty map, got %q", buf.String())
		}
	})
}

func TestDumpMemoryMap(t *testing.T) {
	p, _ := newTestPool(t, 8, BestFit)
	mustInitialize(t, p, 10)
	mustAllocate(t, p, 4)

	name := filepath.Join(t.TempDir(), "map.txt")
	if err := os.WriteFile(name, []byte(strings.Repeat("stale ", 20)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.DumpMemoryMap(name); err != nil {
		t.Fatalf("failed to dump memory map: %v", err)
	}
	got, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	if want := "[4, 6]"; string(got) != want {
		t.Errorf("expected file contents %q, got %q", want, got)
	}

	t.Run("Unwritable sink", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "missing", "map.txt")
		if err := p.DumpMemoryMap(name); !errors.Is(err, ErrSinkFailure) {
			t.Errorf("expected error %q, got %v", ErrSinkFailure, err)
		}
	})
}

func TestBitmap(t *testing.T) {
	t.Run("Empty pool of one byte", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 8)
		if got, want := p.Bitmap(), []byte{1, 0, 0}; !bytes.Equal(got, want) {
			t.Errorf("expected bitmap %v, got %v", want, got)
		}
	})

	t.Run("Allocation at the start", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 10)
		mustAllocate(t, p, 4)
		if got, want := p.Bitmap(), []byte{2, 0, 0x0f, 0x00}; !bytes.Equal(got, want) {
			t.Errorf("expected bitmap %v, got %v", want, got)
		}
	})

	t.Run("Allocation crossing a byte", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 16)
		a := mustAllocate(t, p, 6)
		mustAllocate(t, p, 4)
		mustFree(t, p, a)
		if got, want := p.Bitmap(), []byte{2, 0, 0xc0, 0x03}; !bytes.Equal(got, want) {
			t.Errorf("expected bitmap %v, got %v", want, got)
		}
	})

	t.Run("Two byte header", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		mustInitialize(t, p, 4096)
		mustAllocate(t, p, 4096)
		got := p.Bitmap()
		if len(got) != 2+512 || got[0] != 0 || got[1] != 2 {
			t.Fatalf("expected a 512 byte payload, got header %v and %d bytes", got[:2], len(got))
		}
		for i, b := range got[2:] {
			if b != 0xff {
				t.Fatalf("expected byte %d to be 0xff, got %#x", i, b)
			}
		}
	})

	t.Run("Matches the reference construction", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for range 50 {
			p, _ := newTestPool(t, 8, WorstFit)
			mustInitialize(t, p, rng.Intn(2040)+1)
			var live []Addr
			for range 200 {
				if len(live) > 0 && rng.Intn(2) == 0 {
					j := rng.Intn(len(live))
					mustFree(t, p, live[j])
					live = append(live[:j], live[j+1:]...)
					continue
				}
				if addr, err := p.Allocate((rng.Intn(40) + 1) * 8); err == nil {
					live = append(live, addr)
				}
			}
			if got, want := p.Bitmap(), referenceBitmap(t, p); !bytes.Equal(got, want) {
				t.Fatalf("bitmap mismatch for capacity %d\nexpected %v\ngot      %v", p.Capacity(), want, got)
			}
		}
	})

	t.Run("Uninitialized", func(t *testing.T) {
		p, _ := newTestPool(t, 8, BestFit)
		if got := p.Bitmap(); got != nil {
			t.Errorf("expected nil bitmap, got %v", got)
		}
	})
}

func TestList(t *testing.T) {
	p, _ := newTestPool(t, 8, BestFit)
	if got := p.List(); got != nil {
		t.Errorf("expected nil list, got %v", got)
	}

	mustInitialize(t, p, 16)
	a := mustAllocate(t, p, 4)
	mustAllocate(t, p, 4)
	mustFree(t, p, a)
	if got, want := p.List(), []int{2, 0, 4, 8, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected list %v, got %v", want, got)
	}

	mustAllocate(t, p, 4)
	mustAllocate(t, p, 8)
	if got, want := p.List(), []int{0}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected list %v, got %v", want, got)
	}
}

func TestStats(t *testing.T) {
	p, _ := newTestPool(t, 8, BestFit)
	mustInitialize(t, p, 16)
	if f := p.Stats().Fragmentation(); f != 0 {
		t.Errorf("expected no fragmentation, got %f", f)
	}

	addrs := make([]Addr, 4)
	for i := range addrs {
		addrs[i] = mustAllocate(t, p, 4)
	}
	mustFree(t, p, addrs[0])
	mustFree(t, p, addrs[2])

	want := Stats{
		CapacityWords: 16,
		FreeWords:     8,
		UsedWords:     8,
		Holes:         2,
		LargestHole:   4,
		Allocations:   2,
	}
	s := p.Stats()
	if s != want {
		t.Errorf("expected stats %+v, got %+v", want, s)
	}
	if f := s.Fragmentation(); f != 0.5 {
		t.Errorf("expected fragmentation 0.5, got %f", f)
	}
	if f := (Stats{}).Fragmentation(); f != 0 {
		t.Errorf("expected no fragmentation for a full pool, got %f", f)
	}
}

func TestFingerprint(t *testing.T) {
	layout := func(wordSize, words int, allocs ...int) uint64 {
		p, _ := newTestPool(t, wordSize, BestFit)
		mustInitialize(t, p, words)
		for _, n := range allocs {
			mustAllocate(t, p, n)
		}
		return p.Fingerprint()
	}

	if layout(8, 32, 4, 4) != layout(8, 32, 8) {
		t.Error("expected identical layouts to have identical fingerprints")
	}
	if layout(8, 32, 4) == layout(8, 32, 8) {
		t.Error("expected different hole sets to have different fingerprints")
	}
	if layout(8, 32) == layout(4, 32) {
		t.Error("expected different word sizes to have different fingerprints")
	}
	if layout(8, 32) == layout(8, 33) {
		t.Error("expected different capacities to have different fingerprints")
	}
}
