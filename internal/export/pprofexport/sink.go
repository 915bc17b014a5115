package pprofexport

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/frameprof/internal/safe"
	"github.com/coral-mesh/frameprof/pkg/profiler"
)

// Sink is a profiler.CaptureSink writing one gzipped pprof file per dump.
type Sink struct {
	dir    string
	prefix string
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	builder *Builder
	written []string
}

// NewSink writes files named <prefix>_pprof_YYYYMMDD_HHMMSS_<frame>.pb.gz
// into dir.
func NewSink(dir, prefix string, logger zerolog.Logger) *Sink {
	if prefix == "" {
		prefix = "frameprof"
	}
	return &Sink{
		dir:    dir,
		prefix: prefix,
		logger: logger.With().Str("component", "pprof_export").Logger(),
		now:    time.Now,
	}
}

// Written returns the paths written so far.
func (s *Sink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// WriteCapture implements profiler.CaptureSink.
func (s *Sink) WriteCapture(ctx context.Context, c *profiler.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Forest == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.First || s.builder == nil {
		s.builder = NewBuilder()
	}
	s.builder.Add(c.Forest, c.Partitions, c.Names, c.CyclesPerSecond)
	if !c.Last {
		return nil
	}

	b := s.builder
	s.builder = nil
	prof, err := b.Profile()
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s_pprof_%s_%010d.pb.gz",
		s.prefix, s.now().Format("20060102_150405"), c.Frame))
	if err := safe.WriteFile(path, 0o644, func(w io.Writer) error { return prof.Write(w) }); err != nil {
		return fmt.Errorf("failed to write pprof profile: %w", err)
	}
	s.written = append(s.written, path)
	s.logger.Info().Str("path", path).Int("frames", b.Frames()).Msg("Wrote pprof profile")
	return nil
}
