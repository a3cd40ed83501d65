// Package holes implements the bookkeeping behind a word-addressable pool:
// the table of free regions (holes) and the index of region boundaries.
package holes

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/btree"
)

// Degree of the B-tree backing a Table.
const btreeDegree = 8

var (
	ErrNoHole   = errors.New("no hole at offset")
	ErrTooSmall = errors.New("hole too small")
	ErrOverlap  = errors.New("hole overlaps existing hole")
	ErrBadHole  = errors.New("invalid hole")
)

// Hole is a contiguous free region, in words.
type Hole struct {
	Offset int
	Length int
}

// End returns the offset one past the last word of the hole.
func (h Hole) End() int {
	return h.Offset + h.Length
}

// Less orders holes by offset. It implements [btree.Item].
func (h Hole) Less(than btree.Item) bool {
	return h.Offset < than.(Hole).Offset
}

func (h Hole) String() string {
	return "[" + strconv.Itoa(h.Offset) + ", " + strconv.Itoa(h.Length) + "]"
}

// Table is the set of holes of a pool, ordered by offset.
// At rest no two holes overlap or touch; Insert merges neighbours to keep it that way.
type Table struct {
	tree *btree.BTree
	free int // Sum of all hole lengths.
}

func NewTable() *Table {
	return &Table{tree: btree.New(btreeDegree)}
}

// Reset replaces the contents of the table with a single hole spanning capacity words.
func (t *Table) Reset(capacity int) {
	t.Clear()
	if capacity > 0 {
		t.tree.ReplaceOrInsert(Hole{Offset: 0, Length: capacity})
		t.free = capacity
	}
}

// Clear removes all holes.
func (t *Table) Clear() {
	t.tree.Clear(false)
	t.free = 0
}

// Len returns the number of holes.
func (t *Table) Len() int {
	return t.tree.Len()
}

// FreeWords returns the total length of all holes.
func (t *Table) FreeWords() int {
	return t.free
}

// Get returns the hole starting at offset.
func (t *Table) Get(offset int) (Hole, bool) {
	item := t.tree.Get(Hole{Offset: offset})
	if item == nil {
		return Hole{}, false
	}
	return item.(Hole), true
}

// Holes returns a copy of the holes in ascending offset order.
func (t *Table) Holes() []Hole {
	holes := make([]Hole, 0, t.tree.Len())
	t.tree.Ascend(func(i btree.Item) bool {
		holes = append(holes, i.(Hole))
		return true
	})
	return holes
}

// Largest returns the longest hole, the lowest offset winning ties.
// The ok result is false if the table is empty.
func (t *Table) Largest() (largest Hole, ok bool) {
	t.tree.Ascend(func(i btree.Item) bool {
		if h := i.(Hole); h.Length > largest.Length {
			largest = h
			ok = true
		}
		return true
	})
	return largest, ok
}

// Take carves words from the low end of the hole starting at offset.
// The hole is removed when fully consumed, otherwise it shrinks to the returned remainder.
// The table is left untouched on error.
func (t *Table) Take(offset, words int) (rest Hole, err error) {
	h, ok := t.Get(offset)
	if !ok {
		return Hole{}, fmt.Errorf("%w %d", ErrNoHole, offset)
	}
	if words <= 0 || words > h.Length {
		return Hole{}, fmt.Errorf("%w: %d words requested from %v", ErrTooSmall, words, h)
	}
	t.tree.Delete(h)
	t.free -= words
	rest = Hole{Offset: h.Offset + words, Length: h.Length - words}
	if rest.Length > 0 {
		t.tree.ReplaceOrInsert(rest)
	}
	return rest, nil
}

// Insert adds h to the table and merges it with its immediate predecessor and
// successor when they touch. It returns the resulting hole and the offsets of
// holes that were absorbed into it, which are no longer region boundaries.
// The table is left untouched on error.
func (t *Table) Insert(h Hole) (merged Hole, absorbed []int, err error) {
	if h.Offset < 0 || h.Length <= 0 {
		return Hole{}, nil, fmt.Errorf("%w: %v", ErrBadHole, h)
	}

	var prev, next Hole
	var hasPrev, hasNext bool
	t.tree.DescendLessOrEqual(h, func(i btree.Item) bool {
		prev, hasPrev = i.(Hole), true
		return false
	})
	t.tree.AscendGreaterOrEqual(h, func(i btree.Item) bool {
		next, hasNext = i.(Hole), true
		return false
	})
	if hasPrev && prev.End() > h.Offset {
		return Hole{}, nil, fmt.Errorf("%w: %v overlaps %v", ErrOverlap, h, prev)
	}
	if hasNext && next.Offset < h.End() {
		return Hole{}, nil, fmt.Errorf("%w: %v overlaps %v", ErrOverlap, h, next)
	}

	merged = h
	if hasPrev && prev.End() == h.Offset {
		t.tree.Delete(prev)
		merged.Offset = prev.Offset
		merged.Length += prev.Length
		absorbed = append(absorbed, h.Offset)
	}
	if hasNext && next.Offset == h.End() {
		t.tree.Delete(next)
		merged.Length += next.Length
		absorbed = append(absorbed, next.Offset)
	}
	t.tree.ReplaceOrInsert(merged)
	t.free += h.Length
	return merged, absorbed, nil
}

// WriteTo writes the holes in ascending offset order as "[offset, length]"
// entries joined by " - ". It implements [io.WriterTo].
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	first := true
	t.tree.Ascend(func(i btree.Item) bool {
		if !first {
			sb.WriteString(" - ")
		}
		first = false
		sb.WriteString(i.(Hole).String())
		return true
	})
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}
