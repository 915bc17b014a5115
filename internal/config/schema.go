// Package config provides layered configuration loading for frameprof.
package config

import (
	"time"

	"github.com/coral-mesh/frameprof/internal/logging"
)

// SchemaVersion is written into saved configuration files.
const SchemaVersion = "1"

// Config is the full frameprof configuration file.
type Config struct {
	Version  string         `yaml:"version"`
	Profiler ProfilerConfig `yaml:"profiler"`
	Hitch    HitchConfig    `yaml:"hitch"`
	Capture  CaptureConfig  `yaml:"capture"`
	Storage  StorageConfig  `yaml:"storage"`
	Inspect  InspectConfig  `yaml:"inspect"`
	Workload WorkloadConfig `yaml:"workload"`
	Logging  logging.Config `yaml:"logging"`
}

// ProfilerConfig sizes the profiler core and selects its initial view.
type ProfilerConfig struct {
	// Mode is one of PROFILE_OFF, HIERARCHICAL, SORT_BY_TIME,
	// SORT_BY_NUMCALLS, SORT_BY_NAME, GRAPHS, CORES.
	Mode      string `yaml:"mode" env:"FRAMEPROF_MODE"`
	Category  string `yaml:"category" env:"FRAMEPROF_CATEGORY"`
	Exclusive bool   `yaml:"exclusive" env:"FRAMEPROF_EXCLUSIVE"`

	MaxThreads      int `yaml:"max_threads" env:"FRAMEPROF_MAX_THREADS"`
	EventsPerThread int `yaml:"events_per_thread" env:"FRAMEPROF_EVENTS_PER_THREAD"`
	MaxStackDepth   int `yaml:"max_stack_depth" env:"FRAMEPROF_MAX_STACK_DEPTH"`
	MaxDisplayNodes int `yaml:"max_display_nodes" env:"FRAMEPROF_MAX_DISPLAY_NODES"`
	TopEntries      int `yaml:"top_entries" env:"FRAMEPROF_TOP_ENTRIES"`
	HistoryLength   int `yaml:"history_length"`
	HierarchyPool   int `yaml:"hierarchy_pool"`
	HierarchySlices int `yaml:"hierarchy_slices"`

	// HistoryThread is the producer slot exported to the history table.
	HistoryThread    int `yaml:"history_thread" env:"FRAMEPROF_HISTORY_THREAD"`
	HistoryTableRows int `yaml:"history_table_rows"`

	StallWarn     time.Duration `yaml:"stall_warn"`
	FrameInterval time.Duration `yaml:"frame_interval" env:"FRAMEPROF_FRAME_INTERVAL"`
}

// HitchConfig controls hitch detection and what happens on a hitch.
type HitchConfig struct {
	Samples           int     `yaml:"samples"`
	FrameMSLimit      float64 `yaml:"frame_ms_limit" env:"FRAMEPROF_HITCH_MS"`
	OverAverageFactor float64 `yaml:"over_average_factor"`
	SpikeDetection    bool    `yaml:"spike_detection"`

	// Capture hands hitch frames to the capture writers.
	Capture bool `yaml:"capture" env:"FRAMEPROF_HITCH_CAPTURE"`
	// Freeze stops updating the views after a hitch.
	Freeze bool `yaml:"freeze" env:"FRAMEPROF_HITCH_FREEZE"`
}

// CaptureConfig controls frame capture files.
type CaptureConfig struct {
	// Dir receives capture files; relative paths resolve under the config dir.
	Dir string `yaml:"dir" env:"FRAMEPROF_CAPTURE_DIR"`
	// Formats lists the writers to enable: chrome, otlp, pprof.
	Formats []string `yaml:"formats" env:"FRAMEPROF_CAPTURE_FORMATS"`
	// Frames is the default number of frames per dump request.
	Frames int `yaml:"frames"`
	// Retention keeps at most this many files per format. Zero keeps all.
	Retention int `yaml:"retention"`
}

// StorageConfig controls the DuckDB history table sink.
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled" env:"FRAMEPROF_STORAGE_ENABLED"`
	Path          string        `yaml:"path" env:"FRAMEPROF_STORAGE_PATH"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// InspectConfig controls the HTTP/websocket inspector.
type InspectConfig struct {
	Enabled      bool          `yaml:"enabled" env:"FRAMEPROF_INSPECT_ENABLED"`
	Addr         string        `yaml:"addr" env:"FRAMEPROF_INSPECT_ADDR"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// WorkloadConfig shapes the synthetic workload driven by `frameprof run`.
type WorkloadConfig struct {
	Threads int `yaml:"threads" env:"FRAMEPROF_WORKLOAD_THREADS"`
	Scopes  int `yaml:"scopes"`
	Depth   int `yaml:"depth"`
	// Frames stops the run after this many frames. Zero runs until interrupted.
	Frames int `yaml:"frames" env:"FRAMEPROF_WORKLOAD_FRAMES"`
	// HitchEvery injects a slow frame every N frames. Zero disables it.
	HitchEvery    int           `yaml:"hitch_every"`
	HitchDuration time.Duration `yaml:"hitch_duration"`
	// LeafWork is the busy time spent in each innermost scope.
	LeafWork time.Duration `yaml:"leaf_work"`
}
