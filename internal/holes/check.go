package holes

import (
	"errors"
	"fmt"
)

var ErrInconsistent = errors.New("inconsistent layout")

// Check verifies that t and x describe the same valid layout of a pool of
// capacity words. It returns all violations found joined together, or nil.
func Check(t *Table, x *Index, capacity int) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInconsistent}, args...)...))
	}

	if x.Capacity() != capacity {
		fail("index capacity %d, pool capacity %d", x.Capacity(), capacity)
	}
	if capacity > 0 && !x.Contains(0) {
		fail("offset 0 missing from index")
	}

	free := 0
	prevEnd := -1
	for _, h := range t.Holes() {
		free += h.Length
		switch {
		case h.Length <= 0:
			fail("hole %v has no length", h)
		case h.Offset < 0 || h.End() > capacity:
			fail("hole %v outside pool of %d words", h, capacity)
		case h.Offset < prevEnd:
			fail("hole %v overlaps its predecessor", h)
		case h.Offset == prevEnd:
			fail("hole %v touches its predecessor", h)
		}
		prevEnd = h.End()

		if !x.Contains(h.Offset) {
			fail("hole %v start missing from index", h)
		} else if next := x.Next(h.Offset); next != h.End() {
			fail("hole %v ends at %d, next boundary is %d", h, h.End(), next)
		}
	}
	if free != t.FreeWords() {
		fail("free words %d, hole lengths sum to %d", t.FreeWords(), free)
	}

	covered := 0
	x.Regions(func(offset, length int) bool {
		if length <= 0 {
			fail("empty region at offset %d", offset)
		}
		covered += length
		return true
	})
	if capacity > 0 && covered != capacity {
		fail("regions cover %d of %d words", covered, capacity)
	}
	return errors.Join(errs...)
}
