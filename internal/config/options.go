package config

import (
	"fmt"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/hitch"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

// ProfilerOptions translates the configuration into profiler options.
func (c *Config) ProfilerOptions() (profiler.Options, error) {
	mode, err := profiler.ParseMode(c.Profiler.Mode)
	if err != nil {
		return profiler.Options{}, err
	}
	category, err := event.ParseCategory(c.Profiler.Category)
	if err != nil {
		return profiler.Options{}, fmt.Errorf("profiler.category: %w", err)
	}

	return profiler.Options{
		MaxThreads:      c.Profiler.MaxThreads,
		EventsPerThread: c.Profiler.EventsPerThread,
		Reconstruct: reconstruct.Config{
			MaxStackDepth: c.Profiler.MaxStackDepth,
			MaxNodes:      c.Profiler.MaxDisplayNodes,
		},
		Hierarchy: hierarchy.Config{
			PoolSize:      c.Profiler.HierarchyPool,
			HistorySlices: c.Profiler.HierarchySlices,
		},
		Hitch: hitch.Config{
			NumSamples:        c.Hitch.Samples,
			FrameMSLimit:      c.Hitch.FrameMSLimit,
			OverAverageFactor: c.Hitch.OverAverageFactor,
			SpikeDetection:    c.Hitch.SpikeDetection,
		},
		TopN:             c.Profiler.TopEntries,
		HistoryLength:    c.Profiler.HistoryLength,
		HistoryTableRows: c.Profiler.HistoryTableRows,
		HistorySlot:      c.Profiler.HistoryThread,
		StallWarnAfter:   c.Profiler.StallWarn,
		Mode:             mode,
		Exclusive:        c.Profiler.Exclusive,
		Filter:           category,
		HitchCapture:     c.Hitch.Capture,
		HitchFreeze:      c.Hitch.Freeze,
	}, nil
}
