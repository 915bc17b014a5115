// Package report formats profiler statistics as the text report shown by
// the statistics watcher.
package report

import (
	"fmt"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
)

// Kind selects how a line is styled.
type Kind int

const (
	KindText Kind = iota
	KindHeader
	KindEntry
	KindSelected
	KindGraphed
	KindWarning
)

// Line is one line of the report. Name is set on flat entries and
// hierarchy rows and drives the entry colour.
type Line struct {
	Text string
	Kind Kind
	Name string
}

// Options carries settings the statistics do not hold.
type Options struct {
	HitchDetection bool
}

// Lines builds the report for s. rows is the visible hierarchy and is only
// used in hierarchical modes.
func Lines(s profiler.Statistics, rows []hierarchy.Row, opts Options) []Line {
	var out []Line
	add := func(kind Kind, format string, args ...any) {
		out = append(out, Line{Text: fmt.Sprintf(format, args...), Kind: kind})
	}

	switch {
	case s.Mode == profiler.ModeOff:
		add(KindHeader, "Profiling disabled")
	case s.Mode.Hierarchical():
		add(KindHeader, "Hierarchical Profile data %s", weighting(s.Exclusive))
		add(KindText, "Current Filter: %s", s.Filter)
		add(KindText, "")
		for _, r := range rows {
			out = append(out, hierarchyLine(r))
		}
	default:
		add(KindHeader, "Profile data - %s %s:", modeLabel(s.Mode), weighting(s.Exclusive))
		add(KindText, "Hitch Detection (%s)", enabled(opts.HitchDetection))
		add(KindText, "Current Filter: %s", s.Filter)
		for _, t := range s.Threads {
			add(KindText, "")
			add(KindHeader, "%d: %s", t.Slot, t.Name)
			for i, e := range t.Top {
				out = append(out, Line{
					Text: fmt.Sprintf("%2d: %-40.40s %8.2fms %6d calls", i, e.Name, e.Time, e.Calls),
					Kind: KindEntry,
					Name: e.Name,
				})
			}
		}
	}

	add(KindText, "")
	add(KindText, "Time spent profiling = %8.2fms", s.ProfilingMS)
	add(KindText, "Frame %d: %.2fms (average %.2fms)", s.Frame, s.FrameMS, s.AverageMS)
	add(KindText, "   %6d profile entries, high water %d (out of %d in each buffer)",
		s.Events, s.BufferHighWater, s.BufferCapacity)
	add(KindText, "   %6d display entries (out of %d)", s.Nodes, s.NodeCapacity)
	add(KindText, "   %6d hierarchy nodes", s.HierarchyNodes)
	if s.Hitches > 0 || s.Stalls > 0 {
		add(KindText, "   %6d hitches, %d stalled ticks", s.Hitches, s.Stalls)
	}
	if s.Frozen {
		add(KindWarning, "Frozen")
	}
	if s.Dump != profiler.DumpInactive {
		add(KindText, "Frame dump %s", s.Dump)
	}
	if s.Overflowed {
		msg := s.Message
		if msg == "" {
			msg = "profile buffer overflow"
		}
		add(KindWarning, "Error: %s", msg)
	}
	return out
}

func hierarchyLine(r hierarchy.Row) Line {
	marker := ' '
	if r.Selected {
		marker = '*'
	}
	more := ""
	if r.HasChildren {
		more = "..."
	}
	label := fmt.Sprintf("%c%*s%s(%d)%s", marker, r.Depth, "", r.Name, r.Calls, more)

	line := Line{Kind: KindEntry, Name: r.Name}
	switch {
	case r.Selected:
		line.Kind = KindSelected
	case r.HasHistory:
		line.Kind = KindGraphed
	}
	if r.Calls > 0 {
		line.Text = fmt.Sprintf("%-40s %7.3fms", label, r.Time)
	} else {
		line.Text = label
	}
	return line
}

func modeLabel(m profiler.Mode) string {
	if m == profiler.ModeCores {
		return "Core Usage"
	}
	return "Sorted By " + m.SortMode().Label()
}

func weighting(exclusive bool) string {
	if exclusive {
		return "(Exclusive)"
	}
	return "(Inclusive)"
}

func enabled(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}
