package otlpexport

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/coral-mesh/frameprof/internal/safe"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
)

// Config configures the OTLP sink.
type Config struct {
	Dir     string
	Prefix  string
	Service string
	Session string
}

// Sink is a profiler.CaptureSink writing one OTLP/JSON trace file per dump.
type Sink struct {
	cfg    Config
	anchor Anchor
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	conv    *Converter
	written []string
}

// NewSink anchors src to the current wall time.
func NewSink(cfg Config, src clock.Source, logger zerolog.Logger) *Sink {
	if cfg.Prefix == "" {
		cfg.Prefix = "frameprof"
	}
	if cfg.Service == "" {
		cfg.Service = cfg.Prefix
	}
	return &Sink{
		cfg:    cfg,
		anchor: Anchor{Wall: time.Now(), Cycles: src.Now()},
		logger: logger.With().Str("component", "otlp_export").Logger(),
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.First || s.conv == nil {
		s.conv = NewConverter(s.cfg.Service, s.cfg.Session, s.anchor)
	}
	s.conv.Add(c)
	if !c.Last {
		return nil
	}

	conv := s.conv
	s.conv = nil
	if conv.Frames() == 0 {
		return nil
	}

	var m ptrace.JSONMarshaler
	data, err := m.MarshalTraces(conv.Traces())
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}

	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("%s_otlp_%s_%010d.json",
		s.cfg.Prefix, s.now().Format("20060102_150405"), c.Frame))
	if err := safe.WriteFile(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write otlp trace: %w", err)
	}
	s.written = append(s.written, path)
	s.logger.Info().
		Str("path", path).
		Int("frames", conv.Frames()).
		Int("spans", conv.Traces().SpanCount()).
		Msg("Wrote OTLP trace")
	return nil
}
