package history

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Column names of the history table.
const (
	ColumnTotal     = "Total"
	ColumnProfiling = "profiling"
	ColumnMissing   = "Missing"
)

// DefaultMaxPending bounds the rows kept between exports.
const DefaultMaxPending = 4096

// Sample is the cost of one name in one frame.
type Sample struct {
	Name  string
	MS    float64
	Calls int
}

// Row is one frame of the history table before column assignment.
type Row struct {
	Frame     int32
	Total     float64
	Profiling float64
	Samples   []Sample
}

// Export is a header plus the rows appended since the previous export.
// Values are laid out as Total, profiling, one ms column per name, Missing
// ms, one calls column per name, Missing calls.
type Export struct {
	Header []string
	Frames []int32
	Rows   [][]float64
}

// Names returns the per-name columns, without the Missing column.
func (e Export) Names() []string {
	n := (len(e.Header) - 4) / 2
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = strings.TrimSuffix(e.Header[2+i], " (ms)")
	}
	return out
}

// Strings formats the rows the way the tabular writer prints them: times
// with %f and call counts as integers.
func (e Export) Strings() [][]string {
	callsFrom := 2 + (len(e.Header)-2)/2
	out := make([][]string, len(e.Rows))
	for i, row := range e.Rows {
		rec := make([]string, len(row))
		for j, v := range row {
			if j >= callsFrom {
				rec[j] = strconv.FormatInt(int64(v), 10)
			} else {
				rec[j] = fmt.Sprintf("%f", v)
			}
		}
		out[i] = rec
	}
	return out
}

// Table accumulates rows and assigns them stable columns. The column set is
// fixed by the first export: names first seen later are added to Missing.
type Table struct {
	mu         sync.Mutex
	maxPending int
	names      []string
	index      map[string]int
	pending    []Row
	dropped    int
}

// NewTable creates a table keeping at most maxPending unexported rows.
func NewTable(maxPending int) *Table {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Table{maxPending: maxPending}
}

// Append queues a row. When the queue is full the oldest row is dropped.
func (t *Table) Append(row Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= t.maxPending {
		t.pending = t.pending[1:]
		t.dropped++
	}
	t.pending = append(t.pending, row)
}

// Dropped returns how many rows were discarded before being exported.
func (t *Table) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Header returns the fixed header, or nil before the first export.
func (t *Table) Header() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == nil {
		return nil
	}
	return t.header()
}

// Export drains the queued rows. The first call fixes the column set from
// the names seen so far.
func (t *Table) Export() Export {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index == nil {
		t.fixColumns()
	}

	width := len(t.names) + 1
	exp := Export{
		Header: t.header(),
		Frames: make([]int32, 0, len(t.pending)),
		Rows:   make([][]float64, 0, len(t.pending)),
	}
	for _, row := range t.pending {
		values := make([]float64, 2+2*width)
		values[0] = row.Total
		values[1] = row.Profiling
		for _, s := range row.Samples {
			col, ok := t.index[s.Name]
			if !ok {
				col = len(t.names)
			}
			values[2+col] += s.MS
			values[2+width+col] += float64(s.Calls)
		}
		exp.Frames = append(exp.Frames, row.Frame)
		exp.Rows = append(exp.Rows, values)
	}
	t.pending = t.pending[:0]
	return exp
}

func (t *Table) fixColumns() {
	seen := make(map[string]struct{})
	for _, row := range t.pending {
		for _, s := range row.Samples {
			seen[s.Name] = struct{}{}
		}
	}
	t.names = make([]string, 0, len(seen))
	for name := range seen {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	t.index = make(map[string]int, len(t.names))
	for i, name := range t.names {
		t.index[name] = i
	}
}

func (t *Table) header() []string {
	h := make([]string, 0, 4+2*len(t.names))
	h = append(h, ColumnTotal, ColumnProfiling)
	for _, name := range t.names {
		h = append(h, name+" (ms)")
	}
	h = append(h, ColumnMissing+" (ms)")
	for _, name := range t.names {
		h = append(h, name+" (calls)")
	}
	h = append(h, ColumnMissing+" (calls)")
	return h
}
