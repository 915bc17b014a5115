package hierarchy

// Row is one visible line of the hierarchy in display order.
type Row struct {
	Index       int32
	Name        string
	Depth       int
	Time        float64
	Calls       int
	HasHistory  bool
	HasChildren bool
	Selected    bool
	Expanded    bool
	Highlighted bool
}

// Rows returns the visible nodes in depth-first order.
func (p *Pool) Rows() []Row {
	return p.rows(false)
}

// All returns every node in depth-first order regardless of visibility.
func (p *Pool) All() []Row {
	return p.rows(true)
}

func (p *Pool) rows(all bool) []Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rows []Row
	p.visit(0, 0, all, func(idx int32, depth int) {
		n := &p.nodes[idx]
		rows = append(rows, Row{
			Index:       idx,
			Name:        n.Name,
			Depth:       depth,
			Time:        n.Time,
			Calls:       n.Calls,
			HasHistory:  n.History != nil,
			HasChildren: n.Child != None,
			Selected:    idx == p.selected,
			Expanded:    n.Child != None && p.nodes[n.Child].has(StateVisible),
			Highlighted: n.has(StateHighlighted),
		})
	})
	return rows
}

// visit walks the tree depth-first. Unless all is set a hidden node hides
// its descendants.
func (p *Pool) visit(idx int32, depth int, all bool, fn func(int32, int)) {
	if !all && !p.nodes[idx].has(StateVisible) {
		return
	}
	fn(idx, depth)
	for c := p.nodes[idx].Child; c != None; c = p.nodes[c].Sibling {
		p.visit(c, depth+1, all, fn)
	}
}

func (p *Pool) order() []int32 {
	var out []int32
	p.visit(0, 0, false, func(idx int32, _ int) { out = append(out, idx) })
	return out
}

// Selected returns the index of the selected node.
func (p *Pool) Selected() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Select moves the selection to idx if it is a live node.
func (p *Pool) Select(idx int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(idx) {
		return false
	}
	p.selected = idx
	return true
}

// Next moves the selection to the next visible row, stopping at the last.
func (p *Pool) Next() int32 {
	return p.step(1)
}

// Prev moves the selection to the previous visible row, stopping at the
// root.
func (p *Pool) Prev() int32 {
	return p.step(-1)
}

func (p *Pool) step(dir int) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := p.order()
	pos := 0
	for i, idx := range order {
		if idx == p.selected {
			pos = i
			break
		}
	}
	pos += dir
	if pos < 0 {
		pos = 0
	}
	if pos >= len(order) {
		pos = len(order) - 1
	}
	p.selected = order[pos]
	return p.selected
}

// ToggleChildren expands or collapses the selected node. Collapsing hides
// the whole subtree.
func (p *Pool) ToggleChildren() {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := &p.nodes[p.selected]
	if n.Child == None {
		return
	}
	if p.nodes[n.Child].has(StateVisible) {
		for c := n.Child; c != None; c = p.nodes[c].Sibling {
			p.hide(c)
		}
		return
	}
	for c := n.Child; c != None; c = p.nodes[c].Sibling {
		p.nodes[c].State |= StateVisible
	}
}

func (p *Pool) hide(idx int32) {
	p.nodes[idx].State &^= StateVisible
	for c := p.nodes[idx].Child; c != None; c = p.nodes[c].Sibling {
		p.hide(c)
	}
}

// ToggleGraph flips graphing of the selected node, and of its descendants
// when recursive is set. Enabling allocates a zeroed history.
func (p *Pool) ToggleGraph(recursive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	enable := !p.nodes[p.selected].has(StateGraphed)
	p.setGraph(p.selected, enable, recursive)
}

func (p *Pool) setGraph(idx int32, enable, recursive bool) {
	n := &p.nodes[idx]
	if enable {
		if n.History == nil {
			n.History = make([]float64, p.cfg.HistorySlices)
		}
		n.State |= StateGraphed
	} else {
		n.History = nil
		n.State &^= StateGraphed
	}
	if !recursive {
		return
	}
	for c := n.Child; c != None; c = p.nodes[c].Sibling {
		p.setGraph(c, enable, recursive)
	}
}
