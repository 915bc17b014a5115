package hierarchy

import (
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

// Converter turns cycles into milliseconds.
type Converter func(cycles int64) float64

// Accumulate merges partition part of f into the subtree of the root child
// named thread. Nodes that cannot be created because the pool is full are
// skipped together with their descendants.
func (p *Pool) Accumulate(f *reconstruct.Forest, part int, thread string, exclusive bool, toMS Converter, res names.Resolver) {
	first := f.Root(part)
	if first == reconstruct.None {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	threadIdx := p.childLocked(0, thread)
	if threadIdx == None {
		return
	}

	var total float64
	for r := first; r != reconstruct.None; r = f.Node(r).Sibling {
		total += toMS(f.Node(r).InclusiveCycles)
	}
	p.addLocked(threadIdx, total, 1)
	p.addLocked(0, total, 0)

	p.merge(f, first, threadIdx, exclusive, toMS, res)
}

func (p *Pool) merge(f *reconstruct.Forest, idx, parent int32, exclusive bool, toMS Converter, res names.Resolver) {
	for ; idx != reconstruct.None; idx = f.Node(idx).Sibling {
		n := f.Node(idx)
		target := p.childLocked(parent, res.Lookup(n.Name))
		if target == None {
			continue
		}
		cycles := n.InclusiveCycles
		if exclusive {
			cycles = n.Exclusive()
		}
		p.addLocked(target, toMS(cycles), 1)
		p.merge(f, n.Child, target, exclusive, toMS, res)
	}
}
