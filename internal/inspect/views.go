package inspect

import (
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/registry"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// StatisticsView is the JSON form of profiler.Statistics.
type StatisticsView struct {
	Frame       int32   `json:"frame"`
	FrameMS     float64 `json:"frame_ms"`
	AverageMS   float64 `json:"average_ms"`
	ProfilingMS float64 `json:"profiling_ms"`

	Events          int `json:"events"`
	BufferHighWater int `json:"buffer_high_water"`
	BufferCapacity  int `json:"buffer_capacity"`
	Nodes           int `json:"nodes"`
	NodeCapacity    int `json:"node_capacity"`
	HierarchyNodes  int `json:"hierarchy_nodes"`
	Stragglers      int `json:"stragglers"`
	Mismatched      int `json:"mismatched"`

	Stalls     int    `json:"stalls"`
	Hitches    int    `json:"hitches"`
	Overflowed bool   `json:"overflowed"`
	Message    string `json:"message,omitempty"`

	Mode      string `json:"mode"`
	Filter    string `json:"filter"`
	Exclusive bool   `json:"exclusive"`
	Frozen    bool   `json:"frozen"`
	Dump      string `json:"dump"`

	Threads  []ThreadView  `json:"threads"`
	Counters []CounterView `json:"counters,omitempty"`
}

// ThreadView is one partition of the flat view.
type ThreadView struct {
	Slot    int32       `json:"slot"`
	Name    string      `json:"name"`
	TotalMS float64     `json:"total_ms"`
	Top     []EntryView `json:"top"`
}

// EntryView is one top-N entry.
type EntryView struct {
	Name   string  `json:"name"`
	TimeMS float64 `json:"time_ms"`
	Cycles int64   `json:"cycles"`
	Calls  uint32  `json:"calls"`
}

// CounterView is a counter sample of the last frame.
type CounterView struct {
	Slot  int32  `json:"slot"`
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

// SlotView describes a registered producer slot.
type SlotView struct {
	ID      int32  `json:"id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	Live    bool   `json:"live"`
}

// RowView is one hierarchy row.
type RowView struct {
	Index       int32   `json:"index"`
	Name        string  `json:"name"`
	Depth       int     `json:"depth"`
	TimeMS      float64 `json:"time_ms"`
	Calls       int     `json:"calls"`
	HasChildren bool    `json:"has_children"`
	HasHistory  bool    `json:"has_history"`
	Selected    bool    `json:"selected"`
	Expanded    bool    `json:"expanded"`
}

// TraceEventView is one event of the trace stream.
type TraceEventView struct {
	Slot      int32  `json:"slot"`
	Thread    string `json:"thread"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Phase     string `json:"ph"`
	Timestamp uint64 `json:"ts"`
	Value     int32  `json:"value,omitempty"`
}

func statisticsView(s profiler.Statistics) StatisticsView {
	v := StatisticsView{
		Frame:           s.Frame,
		FrameMS:         s.FrameMS,
		AverageMS:       s.AverageMS,
		ProfilingMS:     s.ProfilingMS,
		Events:          s.Events,
		BufferHighWater: s.BufferHighWater,
		BufferCapacity:  s.BufferCapacity,
		Nodes:           s.Nodes,
		NodeCapacity:    s.NodeCapacity,
		HierarchyNodes:  s.HierarchyNodes,
		Stragglers:      s.Reconstruct.Stragglers,
		Mismatched:      s.Reconstruct.Mismatched,
		Stalls:          s.Stalls,
		Hitches:         s.Hitches,
		Overflowed:      s.Overflowed,
		Message:         s.Message,
		Mode:            s.Mode.String(),
		Filter:          s.Filter.String(),
		Exclusive:       s.Exclusive,
		Frozen:          s.Frozen,
		Dump:            s.Dump.String(),
		Threads:         []ThreadView{},
	}
	for _, t := range s.Threads {
		v.Threads = append(v.Threads, ThreadView{
			Slot:    t.Slot,
			Name:    t.Name,
			TotalMS: t.TotalMS,
			Top:     entryViews(t.Top),
		})
	}
	for _, c := range s.Counters {
		v.Counters = append(v.Counters, CounterView(c))
	}
	return v
}

func entryViews(entries []profiler.TopEntry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{Name: e.Name, TimeMS: e.Time, Cycles: e.Cycles, Calls: e.Calls})
	}
	return out
}

func slotViews(slots []registry.Slot) []SlotView {
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotView{ID: s.ID, Name: s.Name, Visible: s.Visible, Live: s.Live})
	}
	return out
}

func rowViews(rows []hierarchy.Row) []RowView {
	out := make([]RowView, 0, len(rows))
	for _, r := range rows {
		out = append(out, RowView{
			Index:       r.Index,
			Name:        r.Name,
			Depth:       r.Depth,
			TimeMS:      r.Time,
			Calls:       r.Calls,
			HasChildren: r.HasChildren,
			HasHistory:  r.HasHistory,
			Selected:    r.Selected,
			Expanded:    r.Expanded,
		})
	}
	return out
}

func traceViews(events []tracestream.Event) []TraceEventView {
	out := make([]TraceEventView, 0, len(events))
	for _, e := range events {
		out = append(out, TraceEventView{
			Slot:      e.Slot,
			Thread:    e.Thread,
			Name:      e.Name,
			Category:  e.Category.String(),
			Phase:     e.Phase.String(),
			Timestamp: e.Timestamp,
			Value:     e.Value,
		})
	}
	return out
}
