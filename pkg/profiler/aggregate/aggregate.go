// Package aggregate flattens a reconstructed tree into a sorted, de-duplicated
// top-N list.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

// DefaultTopN is the number of entries kept per partition.
const DefaultTopN = 10

// SortMode selects the ordering of a flat report.
type SortMode int

const (
	SortByTime SortMode = iota
	SortByCalls
	SortByName
)

var sortModeNames = []string{"SORT_BY_TIME", "SORT_BY_NUMCALLS", "SORT_BY_NAME"}

func (m SortMode) String() string {
	if m < 0 || int(m) >= len(sortModeNames) {
		return fmt.Sprintf("SortMode(%d)", int(m))
	}
	return sortModeNames[m]
}

// Label is the short human form used in report headers.
func (m SortMode) Label() string {
	switch m {
	case SortByCalls:
		return "Number of Calls"
	case SortByName:
		return "Name"
	default:
		return "Time"
	}
}

// ParseSortMode accepts either the mode constant name or a short alias.
func ParseSortMode(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sort_by_time", "time":
		return SortByTime, nil
	case "sort_by_numcalls", "calls", "numcalls":
		return SortByCalls, nil
	case "sort_by_name", "name":
		return SortByName, nil
	}
	return SortByTime, fmt.Errorf("unknown sort mode %q", s)
}

// Entry is the merged cost of every node sharing a name.
type Entry struct {
	Name   names.Symbol
	Cycles int64
	Calls  uint32
}

// Options control a flat aggregation pass.
type Options struct {
	Mode      SortMode
	Exclusive bool
	TopN      int
}

// Collect appends one entry per node of partition p's tree in depth-first
// order.
func Collect(dst []Entry, f *reconstruct.Forest, p int, exclusive bool) []Entry {
	f.Walk(f.Root(p), func(idx int32, _ int) bool {
		n := f.Node(idx)
		cycles := n.InclusiveCycles
		if exclusive {
			cycles = n.Exclusive()
		}
		dst = append(dst, Entry{Name: n.Name, Cycles: cycles, Calls: 1})
		return true
	})
	return dst
}

// Merge folds entries with the same name into the first occurrence and
// compacts the slice in place.
func Merge(entries []Entry) []Entry {
	out := entries[:0]
	for _, e := range entries {
		merged := false
		for i := range out {
			if out[i].Name == e.Name {
				out[i].Cycles += e.Cycles
				out[i].Calls += e.Calls
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders entries by mode. Name ordering compares the resolved text.
func Sort(entries []Entry, mode SortMode, res names.Resolver) {
	switch mode {
	case SortByCalls:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Calls > entries[j].Calls })
	case SortByName:
		sort.SliceStable(entries, func(i, j int) bool {
			return res.Lookup(entries[i].Name) < res.Lookup(entries[j].Name)
		})
	default:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Cycles > entries[j].Cycles })
	}
}

// Flatten runs Collect, Merge and Sort for one partition and returns at most
// opts.TopN entries. scratch is reused when large enough.
func Flatten(scratch []Entry, f *reconstruct.Forest, p int, opts Options, res names.Resolver) []Entry {
	entries := Merge(Collect(scratch[:0], f, p, opts.Exclusive))
	Sort(entries, opts.Mode, res)
	top := opts.TopN
	if top <= 0 {
		top = DefaultTopN
	}
	if len(entries) > top {
		entries = entries[:top]
	}
	return entries
}

// Total returns the summed cycles of entries.
func Total(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Cycles
	}
	return total
}
