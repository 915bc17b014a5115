// Package hierarchy keeps the named call tree that persists across frames.
//
// Nodes live in a fixed pool and are addressed by index. A node's position is
// decided by its ancestor chain: re-inserting the same path in a later frame
// finds the existing node. Per-frame values are zeroed before each frame is
// accumulated; only graph history carries over.
package hierarchy

import (
	"sync"

	"github.com/rs/zerolog"
)

// RootName is the name of the pool's root node.
const RootName = "All Threads"

// None marks a missing link.
const None int32 = -1

// Defaults for Config.
const (
	DefaultPoolSize      = 1000
	DefaultHistorySlices = 256
)

// State is a bit set of display flags.
type State uint8

const (
	StateVisible State = 1 << iota
	StateHighlighted
	StateGraphed
)

// Node is one named position in the hierarchy.
type Node struct {
	Name    string
	Parent  int32
	Child   int32
	Sibling int32

	// Time is in milliseconds for the current frame.
	Time  float64
	Calls int
	State State

	// History holds Time per frame while the node is graphed.
	History []float64

	inUse bool
}

func (n *Node) has(s State) bool { return n.State&s != 0 }

// Config sizes the pool.
type Config struct {
	PoolSize      int
	HistorySlices int
}

// Pool is the persistent hierarchy. All methods are safe for concurrent use.
type Pool struct {
	logger zerolog.Logger
	cfg    Config

	mu        sync.Mutex
	nodes     []Node
	free      []int32
	slice     int
	selected  int32
	exhausted bool
}

// New creates a pool holding only the root.
func New(cfg Config, logger zerolog.Logger) *Pool {
	if cfg.PoolSize <= 1 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.HistorySlices <= 0 {
		cfg.HistorySlices = DefaultHistorySlices
	}
	p := &Pool{
		logger: logger.With().Str("component", "hierarchy").Logger(),
		cfg:    cfg,
		nodes:  make([]Node, cfg.PoolSize),
	}
	p.resetLocked()
	return p
}

// Reset drops every node except the root.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Pool) resetLocked() {
	for i := range p.nodes {
		p.nodes[i] = Node{Parent: None, Child: None, Sibling: None}
	}
	p.nodes[0].Name = RootName
	p.nodes[0].State = StateVisible
	p.nodes[0].inUse = true

	p.free = p.free[:0]
	for i := int32(len(p.nodes)) - 1; i > 0; i-- {
		p.free = append(p.free, i)
	}
	p.selected = 0
	p.exhausted = false
}

// Len returns the number of nodes in use, root included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes) - len(p.free)
}

// Exhausted reports whether a node could not be created since the last
// reset.
func (p *Pool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

// ZeroFrame clears the per-frame values of every node and selects the history
// slice for frame.
func (p *Pool) ZeroFrame(frame int32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slice = int(uint32(frame) % uint32(p.cfg.HistorySlices))
	for i := range p.nodes {
		n := &p.nodes[i]
		if !n.inUse {
			continue
		}
		n.Time = 0
		n.Calls = 0
		n.State &^= StateHighlighted
		if n.History != nil {
			n.History[p.slice] = 0
		}
	}
}

// ClearHistory zeroes the graph history of every graphed node.
func (p *Pool) ClearHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.nodes {
		clear(p.nodes[i].History)
	}
}

// Child finds the child of parent called name, creating it when missing. It
// returns None when the pool is exhausted.
func (p *Pool) Child(parent int32, name string) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.childLocked(parent, name)
}

func (p *Pool) childLocked(parent int32, name string) int32 {
	if !p.valid(parent) {
		return None
	}
	last := None
	for c := p.nodes[parent].Child; c != None; c = p.nodes[c].Sibling {
		if p.nodes[c].Name == name {
			return c
		}
		last = c
	}

	if len(p.free) == 0 {
		if !p.exhausted {
			p.exhausted = true
			p.logger.Warn().Int("pool_size", len(p.nodes)).Str("name", name).
				Msg("Hierarchy pool exhausted, new nodes are not tracked")
		}
		return None
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	var state State
	par := &p.nodes[parent]
	switch {
	case parent == 0:
		state = StateVisible
	case par.Child != None && p.nodes[par.Child].has(StateVisible):
		state = StateVisible
	}
	p.nodes[idx] = Node{
		Name:    name,
		Parent:  parent,
		Child:   None,
		Sibling: None,
		State:   state,
		inUse:   true,
	}
	if last == None {
		par.Child = idx
	} else {
		p.nodes[last].Sibling = idx
	}
	return idx
}

// Add accumulates one call of ms milliseconds into idx.
func (p *Pool) Add(idx int32, ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(idx, ms, 1)
}

func (p *Pool) addLocked(idx int32, ms float64, calls int) {
	if !p.valid(idx) {
		return
	}
	n := &p.nodes[idx]
	n.Time += ms
	n.Calls += calls
	n.State |= StateHighlighted
	if n.History != nil {
		n.History[p.slice] = n.Time
	}
}

// Prune frees idx and its whole subtree. The root cannot be pruned.
func (p *Pool) Prune(idx int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx == 0 || !p.valid(idx) {
		return
	}

	parent := p.nodes[idx].Parent
	if parent != None {
		prev := None
		for c := p.nodes[parent].Child; c != None; c = p.nodes[c].Sibling {
			if c == idx {
				if prev == None {
					p.nodes[parent].Child = p.nodes[c].Sibling
				} else {
					p.nodes[prev].Sibling = p.nodes[c].Sibling
				}
				break
			}
			prev = c
		}
	}
	if p.isAncestorOf(idx, p.selected) {
		p.selected = max(parent, 0)
	}
	p.release(idx)
	p.exhausted = false
}

// PruneChild frees the child of the root called name, if any.
func (p *Pool) PruneChild(name string) {
	p.mu.Lock()
	idx := None
	for c := p.nodes[0].Child; c != None; c = p.nodes[c].Sibling {
		if p.nodes[c].Name == name {
			idx = c
			break
		}
	}
	p.mu.Unlock()
	if idx != None {
		p.Prune(idx)
	}
}

func (p *Pool) release(idx int32) {
	for c := p.nodes[idx].Child; c != None; {
		next := p.nodes[c].Sibling
		p.release(c)
		c = next
	}
	p.nodes[idx] = Node{Parent: None, Child: None, Sibling: None}
	p.free = append(p.free, idx)
}

func (p *Pool) isAncestorOf(anc, idx int32) bool {
	for ; idx != None; idx = p.nodes[idx].Parent {
		if idx == anc {
			return true
		}
	}
	return false
}

func (p *Pool) valid(idx int32) bool {
	return idx >= 0 && int(idx) < len(p.nodes) && p.nodes[idx].inUse
}

// Get returns a copy of node idx.
func (p *Pool) Get(idx int32) (Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(idx) {
		return Node{}, false
	}
	n := p.nodes[idx]
	n.History = nil
	return n, true
}

// Find follows path from the root and returns the node index or None.
func (p *Pool) Find(path ...string) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int32(0)
	for _, name := range path {
		next := None
		for c := p.nodes[idx].Child; c != None; c = p.nodes[c].Sibling {
			if p.nodes[c].Name == name {
				next = c
				break
			}
		}
		if next == None {
			return None
		}
		idx = next
	}
	return idx
}

// History returns the graph history of idx, oldest first, or nil when the
// node is not graphed.
func (p *Pool) History(idx int32) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(idx) || p.nodes[idx].History == nil {
		return nil
	}
	h := p.nodes[idx].History
	out := make([]float64, 0, len(h))
	out = append(out, h[p.slice+1:]...)
	out = append(out, h[:p.slice+1]...)
	return out
}
