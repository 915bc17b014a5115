package reconstruct

import (
	"sort"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// TooManyNodesMessage is reported when the node arena is exhausted.
const TooManyNodesMessage = "too many display entries"

// Defaults for Config.
const (
	DefaultMaxStackDepth = 64
	DefaultMaxNodes      = 16384
)

// Input is a closed frame buffer.
type Input interface {
	Slots() int
	Events(slot int) []event.Event
}

// Frame identifies the buffer being reconstructed.
type Frame struct {
	ID     int32
	End    uint64
	Filter event.Category
}

// Partitioner maps events to trees.
type Partitioner interface {
	Size() int
	Key(e *event.Event) int
	Interleaved() bool
}

// Config bounds the per-frame working set.
type Config struct {
	MaxStackDepth int
	MaxNodes      int
}

// Reconstructor turns flat event sequences into a Forest. It reuses its
// memory between frames and is not safe for concurrent use.
type Reconstructor struct {
	cfg    Config
	forest Forest

	stacks  [][]int32
	deep    []int
	grouped [][]event.Event
}

// New creates a reconstructor. Zero config fields take their defaults.
func New(cfg Config) *Reconstructor {
	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = DefaultMaxStackDepth
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = DefaultMaxNodes
	}
	return &Reconstructor{
		cfg: cfg,
		forest: Forest{
			Nodes: make([]Node, 0, min(cfg.MaxNodes, 1024)),
		},
	}
}

// Config returns the effective bounds.
func (r *Reconstructor) Config() Config { return r.cfg }

// Build reconstructs one frame. The returned forest is owned by the
// reconstructor and stays valid until the next call.
func (r *Reconstructor) Build(in Input, frame Frame, part Partitioner) *Forest {
	size := part.Size()
	f := &r.forest
	f.reset(size)
	f.Frame = frame.ID
	f.EndOfFrame = frame.End
	f.Filter = frame.Filter
	f.Start = frame.End

	r.prepare(size)

	if part.Interleaved() {
		for slot := 0; slot < in.Slots(); slot++ {
			evs := in.Events(slot)
			for i := range evs {
				if k := part.Key(&evs[i]); k >= 0 && k < size {
					r.grouped[k] = append(r.grouped[k], evs[i])
				}
			}
		}
		for k := range r.grouped {
			g := r.grouped[k]
			sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp < g[j].Timestamp })
			for i := range g {
				r.apply(k, &g[i], frame)
			}
		}
	} else {
		for slot := 0; slot < in.Slots(); slot++ {
			evs := in.Events(slot)
			for i := range evs {
				if k := part.Key(&evs[i]); k >= 0 && k < size {
					r.apply(k, &evs[i], frame)
				}
			}
		}
	}

	// Scopes still open at the end of the buffer are clamped to the frame
	// boundary.
	for k := range r.stacks {
		st := r.stacks[k]
		for i := len(st) - 1; i >= 0; i-- {
			r.close(st[i], frame.End)
			f.Stats.ForceClose++
		}
		r.stacks[k] = st[:0]
	}
	return f
}

func (r *Reconstructor) prepare(size int) {
	if len(r.stacks) < size {
		r.stacks = append(r.stacks, make([][]int32, size-len(r.stacks))...)
		r.deep = append(r.deep, make([]int, size-len(r.deep))...)
		r.grouped = append(r.grouped, make([][]event.Event, size-len(r.grouped))...)
	}
	r.stacks = r.stacks[:size]
	r.deep = r.deep[:size]
	r.grouped = r.grouped[:size]
	for k := 0; k < size; k++ {
		r.stacks[k] = r.stacks[k][:0]
		r.deep[k] = 0
		r.grouped[k] = r.grouped[k][:0]
	}
}

func (r *Reconstructor) apply(k int, e *event.Event, frame Frame) {
	f := &r.forest
	f.Stats.Events++

	if e.Frame != frame.ID {
		f.Stats.Stragglers++
		return
	}
	if !frame.Filter.Enabled(e.Category) {
		f.Stats.Filtered++
		return
	}
	if e.Timestamp < f.Start {
		f.Start = e.Timestamp
	}

	switch e.Kind {
	case event.KindCounter:
		f.Counters = append(f.Counters, CounterSample{
			Partition: int32(k),
			Slot:      e.Slot,
			Name:      e.Name,
			Category:  e.Category,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		})

	case event.KindStart, event.KindStartIdle:
		if len(r.stacks[k]) >= r.cfg.MaxStackDepth {
			r.deep[k]++
			f.Stats.TooDeep++
			return
		}
		if len(f.Nodes) >= r.cfg.MaxNodes {
			r.deep[k]++
			f.Stats.Dropped++
			if !f.Overflowed {
				f.Overflowed = true
				f.Message = TooManyNodesMessage
			}
			return
		}
		idx := r.attach(k, e)
		r.stacks[k] = append(r.stacks[k], idx)

	case event.KindEnd:
		if r.deep[k] > 0 {
			r.deep[k]--
			return
		}
		st := r.stacks[k]
		if len(st) == 0 {
			f.Stats.Mismatched++
			return
		}
		top := st[len(st)-1]
		if f.Nodes[top].Name != e.Name {
			f.Stats.Mismatched++
			return
		}
		r.stacks[k] = st[:len(st)-1]
		r.close(top, e.Timestamp)
	}
}

// attach allocates a node for e as the last child of the open scope, or as
// the last root of partition k when nothing is open.
func (r *Reconstructor) attach(k int, e *event.Event) int32 {
	f := &r.forest
	idx := int32(len(f.Nodes))
	parent := None
	if st := r.stacks[k]; len(st) > 0 {
		parent = st[len(st)-1]
	}
	f.Nodes = append(f.Nodes, Node{
		Name:      e.Name,
		Category:  e.Category,
		Partition: int32(k),
		Depth:     int32(len(r.stacks[k])),
		Start:     e.Timestamp,
		Idle:      e.Kind == event.KindStartIdle,
		Parent:    parent,
		Child:     None,
		Sibling:   None,
		lastChild: None,
	})

	if parent == None {
		if f.lastRoot[k] == None {
			f.Roots[k] = idx
		} else {
			f.Nodes[f.lastRoot[k]].Sibling = idx
		}
		f.lastRoot[k] = idx
		return idx
	}
	p := &f.Nodes[parent]
	if p.lastChild == None {
		p.Child = idx
	} else {
		f.Nodes[p.lastChild].Sibling = idx
	}
	p.lastChild = idx
	return idx
}

// close finishes a node at ts and rolls its cost into the parent. Idle
// nodes keep their whole duration as idle; active nodes report their
// duration minus the idle time nested under them.
func (r *Reconstructor) close(idx int32, ts uint64) {
	n := &r.forest.Nodes[idx]
	n.End = ts
	var inclusive int64
	if ts > n.Start {
		inclusive = int64(ts - n.Start)
	} else {
		n.End = n.Start
	}

	if n.Idle {
		n.InclusiveIdleCycles = inclusive
		n.InclusiveCycles = inclusive
	} else {
		n.InclusiveCycles = max(inclusive-n.InclusiveIdleCycles, 0)
	}
	if n.InclusiveCycles < n.ChildCycles {
		n.InclusiveCycles = n.ChildCycles
	}

	if n.Parent == None {
		return
	}
	p := &r.forest.Nodes[n.Parent]
	p.InclusiveIdleCycles += n.InclusiveIdleCycles
	if !n.Idle {
		p.ChildCycles += n.InclusiveCycles
	}
}
