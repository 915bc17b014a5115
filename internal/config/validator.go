package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// Capture formats.
const (
	FormatChrome = "chrome"
	FormatOTLP   = "otlp"
	FormatPPROF  = "pprof"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

type collector []ValidationError

func (c *collector) add(field, format string, args ...any) {
	*c = append(*c, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) positive(field string, v int) {
	if v <= 0 {
		c.add(field, "must be positive")
	}
}

// nest prefixes the fields of a nested validation error.
func (c *collector) nest(prefix string, err error) {
	if err == nil {
		return
	}
	if multi, ok := err.(*MultiValidationError); ok {
		for _, e := range multi.Errors {
			e.Field = prefix + "." + e.Field
			*c = append(*c, e)
		}
		return
	}
	c.add(prefix, "%v", err)
}

func (c collector) err() error {
	if len(c) == 0 {
		return nil
	}
	return &MultiValidationError{Errors: c}
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	var errs collector

	if c.Version == "" {
		errs.add("version", "version is required")
	}
	errs.nest("profiler", c.Profiler.Validate())
	errs.nest("hitch", c.Hitch.Validate())
	errs.nest("capture", c.Capture.Validate())
	errs.nest("storage", c.Storage.Validate())
	errs.nest("inspect", c.Inspect.Validate())
	errs.nest("workload", c.Workload.Validate())

	if c.Profiler.HistoryThread >= c.Profiler.MaxThreads && c.Profiler.MaxThreads > 0 {
		errs.add("profiler.history_thread", "must be below max_threads (%d)", c.Profiler.MaxThreads)
	}

	return errs.err()
}

// Validate validates ProfilerConfig.
func (c *ProfilerConfig) Validate() error {
	var errs collector

	if _, err := profiler.ParseMode(c.Mode); err != nil {
		errs.add("mode", "must be one of %s", strings.Join(profiler.ModeNames(), ", "))
	}
	if _, err := event.ParseCategory(c.Category); err != nil {
		errs.add("category", "unknown category %q", c.Category)
	}

	errs.positive("max_threads", c.MaxThreads)
	errs.positive("events_per_thread", c.EventsPerThread)
	errs.positive("max_stack_depth", c.MaxStackDepth)
	errs.positive("max_display_nodes", c.MaxDisplayNodes)
	errs.positive("top_entries", c.TopEntries)
	errs.positive("history_length", c.HistoryLength)
	errs.positive("hierarchy_pool", c.HierarchyPool)
	errs.positive("hierarchy_slices", c.HierarchySlices)
	errs.positive("history_table_rows", c.HistoryTableRows)

	if c.HistoryThread < 0 {
		errs.add("history_thread", "must not be negative")
	}
	if c.StallWarn <= 0 {
		errs.add("stall_warn", "must be positive")
	}
	if c.FrameInterval < 0 {
		errs.add("frame_interval", "must not be negative")
	}

	return errs.err()
}

// Validate validates HitchConfig.
func (c *HitchConfig) Validate() error {
	var errs collector

	errs.positive("samples", c.Samples)
	if c.FrameMSLimit <= 0 {
		errs.add("frame_ms_limit", "must be positive")
	}
	if c.OverAverageFactor < 1 {
		errs.add("over_average_factor", "must be at least 1")
	}

	return errs.err()
}

// Validate validates CaptureConfig.
func (c *CaptureConfig) Validate() error {
	var errs collector

	for _, f := range c.Formats {
		switch f {
		case FormatChrome, FormatOTLP, FormatPPROF:
		default:
			errs.add("formats", "unknown format %q (want one of %s, %s, %s)", f, FormatChrome, FormatOTLP, FormatPPROF)
		}
	}
	if len(c.Formats) > 0 && c.Dir == "" {
		errs.add("dir", "capture directory is required")
	}
	errs.positive("frames", c.Frames)
	if c.Retention < 0 {
		errs.add("retention", "must not be negative")
	}

	return errs.err()
}

// Validate validates StorageConfig.
func (c *StorageConfig) Validate() error {
	var errs collector

	if c.Enabled {
		if c.Path == "" {
			errs.add("path", "database path is required when storage is enabled")
		}
		if c.FlushInterval <= 0 {
			errs.add("flush_interval", "must be positive")
		}
	}

	return errs.err()
}

// Validate validates InspectConfig.
func (c *InspectConfig) Validate() error {
	var errs collector

	if c.Enabled {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			errs.add("addr", "invalid listen address %q: %v", c.Addr, err)
		}
		if c.PushInterval <= 0 {
			errs.add("push_interval", "must be positive")
		}
	}

	return errs.err()
}

// Validate validates WorkloadConfig.
func (c *WorkloadConfig) Validate() error {
	var errs collector

	errs.positive("threads", c.Threads)
	errs.positive("scopes", c.Scopes)
	errs.positive("depth", c.Depth)
	if c.Frames < 0 {
		errs.add("frames", "must not be negative")
	}
	if c.HitchEvery < 0 {
		errs.add("hitch_every", "must not be negative")
	}
	if c.HitchEvery > 0 && c.HitchDuration <= 0 {
		errs.add("hitch_duration", "must be positive when hitch_every is set")
	}
	if c.LeafWork < 0 {
		errs.add("leaf_work", "must not be negative")
	}

	return errs.err()
}
