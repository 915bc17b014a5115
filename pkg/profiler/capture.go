package profiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// ErrNoSink is returned by DumpFrames when no capture sink is installed.
var ErrNoSink = errors.New("no capture sink")

// DumpState tracks a DumpFrames request.
type DumpState int

const (
	DumpInactive DumpState = iota
	DumpActive
	DumpCompleted
	DumpFailed
)

func (s DumpState) String() string {
	switch s {
	case DumpInactive:
		return "inactive"
	case DumpActive:
		return "active"
	case DumpCompleted:
		return "completed"
	case DumpFailed:
		return "failed"
	default:
		return fmt.Sprintf("DumpState(%d)", int(s))
	}
}

// Capture is the detailed record of one processed frame.
type Capture struct {
	Frame   int32
	FrameMS float64
	// Hitch is set when the capture was triggered by hitch detection.
	Hitch bool
	// First and Last delimit the frames of one dump request.
	First bool
	Last  bool
	// Start is the timestamp trace events are made relative to.
	Start           uint64
	CyclesPerSecond float64

	Threads    map[int32]string
	Partitions []string
	Events     []tracestream.Event
	Forest     *reconstruct.Forest
	Names      names.Resolver
}

// CaptureSink receives captured frames on the processing goroutine.
type CaptureSink interface {
	WriteCapture(ctx context.Context, c *Capture) error
}

// AddSink installs a capture sink.
func (p *Profiler) AddSink(s CaptureSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// DumpFrames captures the next n processed frames. n <= 0 captures one.
func (p *Profiler) DumpFrames(n int) error {
	if n <= 0 {
		n = DefaultDumpFrames
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sinks) == 0 {
		p.dump = DumpFailed
		return ErrNoSink
	}
	p.dump = DumpActive
	p.dumpRemaining = n
	p.dumpStart = 0
	p.logger.Info().Int("frames", n).Msg("Frame dump requested")
	return nil
}

// DumpState returns the state of the last dump request.
func (p *Profiler) DumpState() DumpState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dump
}

// captureRequest is decided under mu at the start of a pass.
type captureRequest struct {
	dump  bool
	hitch bool
	first bool
	last  bool
	start uint64
	sinks []CaptureSink
}

func (p *Profiler) planCapture(isHitch bool) captureRequest {
	var req captureRequest
	if len(p.sinks) == 0 {
		return req
	}
	if p.dump == DumpActive && p.dumpRemaining > 0 {
		req.dump = true
		req.first = p.dumpStart == 0
		req.last = p.dumpRemaining == 1
		req.start = p.dumpStart
	}
	if isHitch && p.opts.HitchCapture {
		req.hitch = true
		if !req.dump {
			req.first = true
			req.last = true
		}
	}
	if req.dump || req.hitch {
		req.sinks = append([]CaptureSink(nil), p.sinks...)
	}
	return req
}

func (p *Profiler) writeCapture(ctx context.Context, req captureRequest, c *Capture) {
	if c.Start == 0 {
		c.Start = c.Forest.Start
	}
	var failed error
	for _, s := range req.sinks {
		if err := s.WriteCapture(ctx, c); err != nil {
			failed = err
			p.logger.Error().Err(err).Int32("frame", c.Frame).Msg("Failed to write frame capture")
		}
	}

	if !req.dump {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dump != DumpActive {
		return
	}
	if failed != nil {
		p.dump = DumpFailed
		p.dumpRemaining = 0
		return
	}
	if p.dumpStart == 0 {
		p.dumpStart = c.Start
	}
	p.dumpRemaining--
	if p.dumpRemaining <= 0 {
		p.dump = DumpCompleted
		p.logger.Info().Int32("frame", c.Frame).Msg("Frame dump completed")
	}
}
