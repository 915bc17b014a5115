package profiler

import (
	"time"

	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/history"
	"github.com/coral-mesh/frameprof/pkg/profiler/hitch"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/profiler/task"
)

// Defaults for Options.
const (
	DefaultMaxThreads      = 96
	DefaultEventsPerThread = 8192
	DefaultStallWarnAfter  = 100 * time.Millisecond
	DefaultDumpFrames      = 1
	ForceDumpFrames        = 15
)

// Options configure a Profiler. Zero fields take their defaults.
type Options struct {
	MaxThreads      int
	EventsPerThread int

	Reconstruct reconstruct.Config
	Hierarchy   hierarchy.Config
	Hitch       hitch.Config

	TopN             int
	HistoryLength    int
	HistoryTableRows int
	// HistorySlot selects the partition feeding the history table.
	HistorySlot int

	StallWarnAfter time.Duration

	// Mode is the initial view. ModeOff starts the profiler disabled.
	Mode      Mode
	Exclusive bool
	Filter    event.Category

	// HitchCapture hands hitch frames to the capture sinks.
	HitchCapture bool
	// HitchFreeze freezes the views after a hitch frame.
	HitchFreeze bool

	// Synchronous runs each processing pass on the driver inside Tick.
	Synchronous bool

	Clock clock.Source
	// Scheduler runs processing passes. A private single worker is used
	// when nil.
	Scheduler task.Scheduler
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		MaxThreads:      DefaultMaxThreads,
		EventsPerThread: DefaultEventsPerThread,
		Reconstruct: reconstruct.Config{
			MaxStackDepth: reconstruct.DefaultMaxStackDepth,
			MaxNodes:      reconstruct.DefaultMaxNodes,
		},
		Hierarchy: hierarchy.Config{
			PoolSize:      hierarchy.DefaultPoolSize,
			HistorySlices: hierarchy.DefaultHistorySlices,
		},
		Hitch:            hitch.DefaultConfig(),
		TopN:             aggregate.DefaultTopN,
		HistoryLength:    history.DefaultLength,
		HistoryTableRows: history.DefaultMaxPending,
		StallWarnAfter:   DefaultStallWarnAfter,
		Mode:             ModeHierarchical,
		Filter:           event.CategoryAll,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxThreads <= 0 {
		o.MaxThreads = d.MaxThreads
	}
	if o.EventsPerThread <= 0 {
		o.EventsPerThread = d.EventsPerThread
	}
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.HistoryLength <= 0 {
		o.HistoryLength = d.HistoryLength
	}
	if o.HistoryTableRows <= 0 {
		o.HistoryTableRows = d.HistoryTableRows
	}
	if o.StallWarnAfter <= 0 {
		o.StallWarnAfter = d.StallWarnAfter
	}
	if o.Filter == 0 {
		o.Filter = d.Filter
	}
	if o.Clock == nil {
		o.Clock = clock.NewMonotonic()
	}
	return o
}
