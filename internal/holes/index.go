package holes

import "github.com/RoaringBitmap/roaring"

// Index is the sorted set of region start offsets of a pool: every hole start
// and every allocation start below capacity. The distance from a member to the
// next member, or to capacity for the last one, is the length of the region
// starting there.
type Index struct {
	bm       *roaring.Bitmap
	capacity int
}

func NewIndex() *Index {
	return &Index{bm: roaring.New()}
}

// Reset clears the index for a pool of capacity words.
// A non-empty pool always has a region starting at 0.
func (x *Index) Reset(capacity int) {
	x.bm.Clear()
	x.capacity = max(capacity, 0)
	if x.capacity > 0 {
		x.bm.Add(0)
	}
}

func (x *Index) Capacity() int {
	return x.capacity
}

// Len returns the number of region starts.
func (x *Index) Len() int {
	return int(x.bm.GetCardinality())
}

// Add records a region start. Offsets outside [0, capacity) are ignored,
// since no region can start there. It reports whether offset was added.
func (x *Index) Add(offset int) bool {
	if offset < 0 || offset >= x.capacity {
		return false
	}
	return x.bm.CheckedAdd(uint32(offset))
}

// Remove forgets a region start.
func (x *Index) Remove(offset int) {
	if offset < 0 || offset >= x.capacity {
		return
	}
	x.bm.Remove(uint32(offset))
}

func (x *Index) Contains(offset int) bool {
	if offset < 0 || offset >= x.capacity {
		return false
	}
	return x.bm.Contains(uint32(offset))
}

// Next returns the first boundary strictly after offset, or capacity if there is none.
func (x *Index) Next(offset int) int {
	if offset >= x.capacity {
		return x.capacity
	}
	var rank uint64
	if offset >= 0 {
		rank = x.bm.Rank(uint32(offset)) // Members <= offset.
	}
	if rank >= x.bm.GetCardinality() {
		return x.capacity
	}
	next, err := x.bm.Select(uint32(rank))
	if err != nil {
		return x.capacity
	}
	return int(next)
}

// RegionLength returns the length of the region starting at offset.
// The ok result is false if no region starts at offset.
func (x *Index) RegionLength(offset int) (length int, ok bool) {
	if !x.Contains(offset) {
		return 0, false
	}
	return x.Next(offset) - offset, true
}

// Regions calls fn for every region in ascending offset order until fn returns false.
func (x *Index) Regions(fn func(offset, length int) bool) {
	it := x.bm.Iterator()
	if !it.HasNext() {
		return
	}
	cur := int(it.Next())
	for {
		end := x.capacity
		more := it.HasNext()
		if more {
			end = int(it.Next())
		}
		if !fn(cur, end-cur) || !more {
			return
		}
		cur = end
	}
}

// Offsets returns the region starts in ascending order.
func (x *Index) Offsets() []int {
	offsets := make([]int, 0, x.Len())
	it := x.bm.Iterator()
	for it.HasNext() {
		offsets = append(offsets, int(it.Next()))
	}
	return offsets
}
