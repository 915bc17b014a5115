package profiler

import (
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/history"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// TopEntry is one line of the flat view with its name resolved.
type TopEntry struct {
	Name   string
	Cycles int64
	// Time is in milliseconds.
	Time  float64
	Calls uint32
}

// CounterValue is a counter sample of the last processed frame.
type CounterValue struct {
	Slot  int32
	Name  string
	Value int32
}

// ThreadStatistics is the flat view of one partition.
type ThreadStatistics struct {
	Slot    int32
	Name    string
	TotalMS float64
	Top     []TopEntry
}

// Statistics describes the last processed frame and the profiler settings.
type Statistics struct {
	Frame       int32
	FrameMS     float64
	AverageMS   float64
	ProfilingMS float64

	Events          int
	BufferHighWater int
	BufferCapacity  int
	Nodes           int
	NodeCapacity    int
	HierarchyNodes  int
	Reconstruct     reconstruct.Stats

	Stalls  int
	Hitches int

	// Overflowed is sticky once any event or node was dropped.
	Overflowed bool
	Message    string

	Mode      Mode
	Filter    event.Category
	Exclusive bool
	Frozen    bool
	Dump      DumpState

	Threads  []ThreadStatistics
	Counters []CounterValue
}

// SnapshotTopN returns the flat view of partition slot for the last
// processed frame.
func (p *Profiler) SnapshotTopN(slot int) []TopEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.topN) {
		return nil
	}
	return append([]TopEntry(nil), p.topN[slot]...)
}

// SnapshotHierarchy returns every node of the persistent hierarchy in
// depth-first order.
func (p *Profiler) SnapshotHierarchy() []hierarchy.Row {
	return p.pool.All()
}

// SnapshotHistory returns partition slot's per-frame totals in
// milliseconds, oldest first.
func (p *Profiler) SnapshotHistory(slot int) []float64 {
	return p.ring.Snapshot(slot)
}

// ExportTraceEventStream returns the last processed frame's events in
// chronological order.
func (p *Profiler) ExportTraceEventStream() []tracestream.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracestream.Event(nil), p.stream...)
}

// ExportHistoryTable drains the history table. Column identity is stable
// for the lifetime of the profiler.
func (p *Profiler) ExportHistoryTable() history.Export {
	return p.table.Export()
}

// Statistics returns a copy of the current statistics.
func (p *Profiler) Statistics() Statistics {
	p.mu.Lock()
	s := p.stats
	s.Counters = append([]CounterValue(nil), p.stats.Counters...)
	s.Mode = p.mode
	s.Filter = p.filter
	s.Exclusive = p.exclusive
	s.Frozen = p.frozen
	s.Dump = p.dump
	part := p.partition(p.mode)
	top := append([][]TopEntry(nil), p.topN...)
	p.mu.Unlock()

	for i, entries := range top {
		if len(entries) == 0 || i >= part.Size() {
			continue
		}
		var total float64
		for _, e := range entries {
			total += e.Time
		}
		s.Threads = append(s.Threads, ThreadStatistics{
			Slot:    int32(i),
			Name:    part.Name(i),
			TotalMS: total,
			Top:     append([]TopEntry(nil), entries...),
		})
	}
	return s
}
