package constants

import "time"

// Profiler sizing defaults.
const (
	DefaultMaxThreads = 96

	DefaultEventsPerThread = 8192

	DefaultMaxStackDepth = 64

	// DefaultMaxDisplayNodes bounds the per-frame reconstruction arena.
	DefaultMaxDisplayNodes = 16384

	DefaultTopEntries = 10

	DefaultHistoryLength = 512

	DefaultHierarchyPool = 1000

	DefaultHierarchySlices = 256

	DefaultHistoryTableRows = 4096
)

// Hitch detection defaults.
const (
	DefaultHitchSamples = 10

	DefaultHitchFrameMS = 100.0

	DefaultHitchOverAverage = 1.5
)

// Timing defaults.
const (
	// DefaultStallWarn is how long Tick waits for the previous pass before
	// warning.
	DefaultStallWarn = 100 * time.Millisecond

	DefaultFrameInterval = 16 * time.Millisecond

	DefaultFlushInterval = time.Second

	DefaultShutdownTimeout = 5 * time.Second

	DefaultQueryTimeout = 30 * time.Second
)

// Capture defaults.
const (
	DefaultDumpFrames = 1

	DefaultCaptureRetention = 20
)
