package status

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/coral-mesh/frameprof/internal/inspect"
	"github.com/coral-mesh/frameprof/pkg/version"
)

// Output is the JSON form of the status command.
type Output struct {
	Inspector struct {
		URL     string `json:"url"`
		Healthy bool   `json:"healthy"`
	} `json:"inspector"`
	Statistics *inspect.StatisticsView `json:"statistics,omitempty"`
	Build      version.Info            `json:"build"`
}

// Formatter writes status output.
type Formatter struct {
	w   io.Writer
	url string
}

// NewFormatter creates a formatter for the inspector at url.
func NewFormatter(w io.Writer, url string) *Formatter {
	return &Formatter{w: w, url: url}
}

// OutputJSON writes the status as indented JSON. stats is nil when the
// inspector did not answer.
func (f *Formatter) OutputJSON(stats *inspect.StatisticsView) error {
	output := Output{Statistics: stats, Build: version.Get()}
	output.Inspector.URL = f.url
	output.Inspector.Healthy = stats != nil

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.w, string(data))
	return err
}

// OutputTable writes the status in human-readable form.
func (f *Formatter) OutputTable(stats *inspect.StatisticsView, verbose bool) error {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(f.w, format, args...)
	}

	p("Frameprof Status\n")
	p("================\n\n")

	if stats == nil {
		p("Inspector: %s (unreachable)\n", f.url)
		p("Version:   frameprof %s\n\n", version.Version)
		p("Run 'frameprof run --inspect' to start a profiling session.\n")
		return nil
	}

	weighting := "inclusive"
	if stats.Exclusive {
		weighting = "exclusive"
	}

	p("Inspector: %s (healthy)\n", f.url)
	p("Version:   frameprof %s\n", version.Version)
	p("Frame:     %d (%.2fms, average %.2fms)\n", stats.Frame, stats.FrameMS, stats.AverageMS)
	p("Mode:      %s, %s, filter %s\n", stats.Mode, weighting, stats.Filter)
	p("Hitches:   %d (%d stalled ticks)\n", stats.Hitches, stats.Stalls)
	p("Dump:      %s\n", stats.Dump)
	if stats.Frozen {
		p("Views:     frozen\n")
	}
	if stats.Overflowed {
		p("Warning:   %s\n", stats.Message)
	}
	if verbose {
		p("Buffers:   %d events, high water %d of %d\n",
			stats.Events, stats.BufferHighWater, stats.BufferCapacity)
		p("Nodes:     %d of %d, %d in hierarchy\n",
			stats.Nodes, stats.NodeCapacity, stats.HierarchyNodes)
		p("Profiling: %.2fms\n", stats.ProfilingMS)
	}
	p("\n")

	if len(stats.Threads) == 0 {
		p("No threads reported.\n")
		return nil
	}

	p("%-5s %-20s %10s  %s\n", "SLOT", "THREAD", "TOTAL MS", "TOP")
	for _, t := range stats.Threads {
		top := "-"
		if len(t.Top) > 0 {
			top = fmt.Sprintf("%s (%.2fms, %d calls)", t.Top[0].Name, t.Top[0].TimeMS, t.Top[0].Calls)
		}
		p("%-5d %-20s %10.2f  %s\n", t.Slot, truncate(t.Name, 20), t.TotalMS, top)
	}

	if verbose && len(stats.Counters) > 0 {
		p("\n%-5s %-20s %10s\n", "SLOT", "COUNTER", "VALUE")
		for _, c := range stats.Counters {
			p("%-5d %-20s %10d\n", c.Slot, truncate(c.Name, 20), c.Value)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
