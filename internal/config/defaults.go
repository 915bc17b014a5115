package config

import (
	"os"
	"time"

	"github.com/coral-mesh/frameprof/internal/constants"
	"github.com/coral-mesh/frameprof/internal/logging"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Profiler: ProfilerConfig{
			Mode:             "HIERARCHICAL",
			Category:         "All",
			MaxThreads:       constants.DefaultMaxThreads,
			EventsPerThread:  constants.DefaultEventsPerThread,
			MaxStackDepth:    constants.DefaultMaxStackDepth,
			MaxDisplayNodes:  constants.DefaultMaxDisplayNodes,
			TopEntries:       constants.DefaultTopEntries,
			HistoryLength:    constants.DefaultHistoryLength,
			HierarchyPool:    constants.DefaultHierarchyPool,
			HierarchySlices:  constants.DefaultHierarchySlices,
			HistoryTableRows: constants.DefaultHistoryTableRows,
			StallWarn:        constants.DefaultStallWarn,
			FrameInterval:    constants.DefaultFrameInterval,
		},
		Hitch: HitchConfig{
			Samples:           constants.DefaultHitchSamples,
			FrameMSLimit:      constants.DefaultHitchFrameMS,
			OverAverageFactor: constants.DefaultHitchOverAverage,
			Capture:           true,
		},
		Capture: CaptureConfig{
			Dir:       constants.DefaultCaptureDir,
			Formats:   []string{FormatChrome},
			Frames:    constants.DefaultDumpFrames,
			Retention: constants.DefaultCaptureRetention,
		},
		Storage: StorageConfig{
			Path:          constants.DefaultHistoryDatabase,
			FlushInterval: constants.DefaultFlushInterval,
		},
		Inspect: InspectConfig{
			Addr:         constants.DefaultInspectAddr,
			PushInterval: constants.DefaultFlushInterval,
		},
		Workload: WorkloadConfig{
			Threads:       4,
			Scopes:        8,
			Depth:         3,
			HitchDuration: 150 * time.Millisecond,
			LeafWork:      50 * time.Microsecond,
		},
		Logging: logging.Config{
			Level:  "info",
			Pretty: true,
			Output: os.Stderr,
		},
	}
}
