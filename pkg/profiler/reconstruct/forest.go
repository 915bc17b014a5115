// Package reconstruct rebuilds per-partition call trees from a closed frame
// buffer.
package reconstruct

import (
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
)

// None marks a missing arena link.
const None int32 = -1

// Node is one scope instance of the frame. Links are indices into
// Forest.Nodes.
type Node struct {
	Name      names.Symbol
	Category  event.Category
	Partition int32
	Depth     int32
	Start     uint64
	End       uint64

	InclusiveCycles     int64
	ChildCycles         int64
	InclusiveIdleCycles int64
	Idle                bool

	Parent  int32
	Child   int32
	Sibling int32

	lastChild int32
}

// Exclusive returns the cycles spent in the node itself, never negative.
func (n *Node) Exclusive() int64 {
	if n.ChildCycles >= n.InclusiveCycles {
		return 0
	}
	return n.InclusiveCycles - n.ChildCycles
}

// CounterSample is a counter event that passed the filters.
type CounterSample struct {
	Partition int32
	Slot      int32
	Name      names.Symbol
	Category  event.Category
	Value     int32
	Timestamp uint64
}

// Stats counts events the reconstruction did not attach.
type Stats struct {
	Events     int
	Stragglers int
	Filtered   int
	Mismatched int
	TooDeep    int
	Dropped    int
	ForceClose int
}

// Forest is the reconstructed frame: one root list per partition sharing one
// node arena.
type Forest struct {
	Frame      int32
	Start      uint64
	EndOfFrame uint64
	Filter     event.Category

	Nodes    []Node
	Roots    []int32
	Counters []CounterSample
	Stats    Stats

	// Overflowed is set once the arena ran out of nodes.
	Overflowed bool
	Message    string

	lastRoot []int32
}

// Root returns the first root of partition p or None.
func (f *Forest) Root(p int) int32 {
	if p < 0 || p >= len(f.Roots) {
		return None
	}
	return f.Roots[p]
}

// Node returns the node at idx.
func (f *Forest) Node(idx int32) *Node {
	return &f.Nodes[idx]
}

// Walk visits the subtree list starting at first and all its siblings in
// depth-first pre-order. Returning false from fn skips the node's children.
func (f *Forest) Walk(first int32, fn func(idx int32, depth int) bool) {
	f.walk(first, 0, fn)
}

func (f *Forest) walk(idx int32, depth int, fn func(int32, int) bool) {
	for ; idx != None; idx = f.Nodes[idx].Sibling {
		if fn(idx, depth) {
			f.walk(f.Nodes[idx].Child, depth+1, fn)
		}
	}
}

// RootSpan returns the cycles from the start of the partition's first root
// to the end of its last root.
func (f *Forest) RootSpan(p int) int64 {
	first := f.Root(p)
	if first == None {
		return 0
	}
	last := first
	for f.Nodes[last].Sibling != None {
		last = f.Nodes[last].Sibling
	}
	start, end := f.Nodes[first].Start, f.Nodes[last].End
	if end < start {
		return 0
	}
	return int64(end - start)
}

// Clone deep-copies the forest so it outlives the next reconstruction.
func (f *Forest) Clone() *Forest {
	c := *f
	c.Nodes = append([]Node(nil), f.Nodes...)
	c.Roots = append([]int32(nil), f.Roots...)
	c.Counters = append([]CounterSample(nil), f.Counters...)
	c.lastRoot = nil
	return &c
}

func (f *Forest) reset(partitions int) {
	f.Nodes = f.Nodes[:0]
	f.Counters = f.Counters[:0]
	f.Stats = Stats{}
	f.Overflowed = false
	f.Message = ""
	f.Roots = resize(f.Roots, partitions)
	f.lastRoot = resize(f.lastRoot, partitions)
	for i := range f.Roots {
		f.Roots[i] = None
		f.lastRoot[i] = None
	}
}

func resize(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}
