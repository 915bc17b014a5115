// Package chrometrace writes captured frames as Chrome trace event JSON,
// loadable in chrome://tracing and Perfetto.
package chrometrace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/frameprof/internal/safe"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
	"github.com/coral-mesh/frameprof/pkg/version"
)

// TraceEvent is one entry of the traceEvents array.
type TraceEvent struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat,omitempty"`
	Ph   string         `json:"ph"`
	Ts   float64        `json:"ts"`
	Pid  int            `json:"pid"`
	Tid  int32          `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

// File is the JSON document written per dump.
type File struct {
	TraceEvents     []TraceEvent   `json:"traceEvents"`
	DisplayTimeUnit string         `json:"displayTimeUnit"`
	OtherData       map[string]any `json:"otherData,omitempty"`
}

// Config configures a Writer.
type Config struct {
	Dir string
	// Prefix names the files <prefix>_profile_YYYYMMDD_HHMMSS_<frame>.json.
	// Defaults to the executable name.
	Prefix string
	// Retention keeps at most this many trace files in Dir. Zero keeps all.
	Retention int
	// Session is recorded in otherData.
	Session string
}

// Writer is a profiler.CaptureSink. Frames of a multi-frame dump are
// buffered and written as a single file when the last one arrives.
type Writer struct {
	cfg    Config
	logger zerolog.Logger
	pid    int
	now    func() time.Time

	mu      sync.Mutex
	pending *File
	frames  []int32
	written []string
}

// New creates a writer.
func New(cfg Config, logger zerolog.Logger) *Writer {
	if cfg.Prefix == "" {
		cfg.Prefix = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With().Str("component", "chrome_trace").Logger(),
		pid:    os.Getpid(),
		now:    time.Now,
	}
}

// Written returns the paths of the files written so far.
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.written...)
}

// WriteCapture implements profiler.CaptureSink.
func (w *Writer) WriteCapture(ctx context.Context, c *profiler.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if c.First || w.pending == nil {
		w.pending = &File{DisplayTimeUnit: "ms"}
		w.frames = w.frames[:0]
		w.pending.TraceEvents = append(w.pending.TraceEvents, w.metadata(c)...)
	}
	w.pending.TraceEvents = append(w.pending.TraceEvents, Convert(c, w.pid)...)
	w.frames = append(w.frames, c.Frame)

	if !c.Last {
		return nil
	}

	file := w.pending
	w.pending = nil
	file.OtherData = map[string]any{
		"frames": append([]int32(nil), w.frames...),
		"hitch":  c.Hitch,
		"build":  version.Get().String(),
	}
	if w.cfg.Session != "" {
		file.OtherData["session"] = w.cfg.Session
	}

	path := filepath.Join(w.cfg.Dir, fmt.Sprintf("%s_profile_%s_%010d.json",
		w.cfg.Prefix, w.now().Format("20060102_150405"), c.Frame))
	err := safe.WriteFile(path, 0o644, func(out io.Writer) error {
		return json.NewEncoder(out).Encode(file)
	})
	if err != nil {
		return fmt.Errorf("failed to write chrome trace: %w", err)
	}

	w.written = append(w.written, path)
	w.logger.Info().Str("path", path).Int("frames", len(w.frames)).Msg("Wrote chrome trace")
	w.prune()
	return nil
}

// metadata names every thread of the capture.
func (w *Writer) metadata(c *profiler.Capture) []TraceEvent {
	slots := make([]int32, 0, len(c.Threads))
	for slot := range c.Threads {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	out := make([]TraceEvent, 0, len(slots))
	for _, slot := range slots {
		out = append(out, TraceEvent{
			Name: "thread_name",
			Ph:   "M",
			Pid:  w.pid,
			Tid:  slot,
			Args: map[string]any{"name": c.Threads[slot]},
		})
	}
	return out
}

// Convert maps a capture's event stream to trace events with timestamps in
// microseconds relative to c.Start.
func Convert(c *profiler.Capture, pid int) []TraceEvent {
	cps := c.CyclesPerSecond
	if cps <= 0 {
		cps = 1e9
	}
	out := make([]TraceEvent, 0, len(c.Events))
	for _, e := range c.Events {
		var ts float64
		if e.Timestamp > c.Start {
			ts = float64(e.Timestamp-c.Start) * 1e6 / cps
		}
		te := TraceEvent{
			Name: e.Name,
			Cat:  e.Category.String(),
			Ph:   e.Phase.String(),
			Ts:   ts,
			Pid:  pid,
			Tid:  e.Slot,
		}
		if e.Phase == tracestream.PhaseCounter {
			te.Args = map[string]any{"value": e.Value}
		}
		out = append(out, te)
	}
	return out
}

// prune removes the oldest files beyond the retention limit.
func (w *Writer) prune() {
	if w.cfg.Retention <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, w.cfg.Prefix+"_profile_*.json"))
	if err != nil || len(matches) <= w.cfg.Retention {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-w.cfg.Retention] {
		if err := os.Remove(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove old trace")
		}
	}
}
