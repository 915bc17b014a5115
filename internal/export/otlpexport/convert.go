// Package otlpexport turns captured frames into OTLP traces. Each frame is a
// span; its threads and scopes become nested child spans.
package otlpexport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/version"
)

// Attribute keys set on exported spans.
const (
	AttrFrame       = "frameprof.frame"
	AttrFrameMS     = "frameprof.frame_ms"
	AttrHitch       = "frameprof.hitch"
	AttrThread      = "frameprof.thread"
	AttrCategory    = "frameprof.category"
	AttrIdle        = "frameprof.idle"
	AttrExclusiveMS = "frameprof.exclusive_ms"
	AttrDepth       = "frameprof.depth"
	AttrSession     = "frameprof.session"
	AttrCounter     = "frameprof.counter.value"
)

// ScopeName is the instrumentation scope of exported spans.
const ScopeName = "github.com/coral-mesh/frameprof"

// Anchor maps profiler cycles onto wall-clock time.
type Anchor struct {
	Wall   time.Time
	Cycles uint64
}

// At returns the wall time of a cycle timestamp.
func (a Anchor) At(cycles uint64, cyclesPerSecond float64) pcommon.Timestamp {
	if cyclesPerSecond <= 0 {
		cyclesPerSecond = 1e9
	}
	delta := float64(int64(cycles - a.Cycles))
	offset := time.Duration(delta * float64(time.Second) / cyclesPerSecond)
	return pcommon.NewTimestampFromTime(a.Wall.Add(offset))
}

// Converter appends captures to one trace. Span IDs are sequential within a
// converter.
type Converter struct {
	traces  ptrace.Traces
	spans   ptrace.SpanSlice
	traceID pcommon.TraceID
	anchor  Anchor
	nextID  uint64
	frames  int
}

// NewConverter starts a trace for service. session, when set, is recorded
// as a resource attribute.
func NewConverter(service, session string, anchor Anchor) *Converter {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", service)
	rs.Resource().Attributes().PutStr("service.version", version.Version)
	if session != "" {
		rs.Resource().Attributes().PutStr(AttrSession, session)
	}
	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(ScopeName)

	return &Converter{
		traces:  td,
		spans:   ss.Spans(),
		traceID: pcommon.TraceID(uuid.New()),
		anchor:  anchor,
	}
}

// Frames returns how many captures were added.
func (c *Converter) Frames() int { return c.frames }

// Traces returns the accumulated trace.
func (c *Converter) Traces() ptrace.Traces { return c.traces }

func (c *Converter) spanID() pcommon.SpanID {
	c.nextID++
	var id pcommon.SpanID
	binary.BigEndian.PutUint64(id[:], c.nextID)
	return id
}

// Add converts the reconstructed forest of c. Captures without a forest are
// skipped.
func (c *Converter) Add(capt *profiler.Capture) {
	f := capt.Forest
	if f == nil {
		return
	}
	c.frames++
	rate := capt.CyclesPerSecond
	at := func(cycles uint64) pcommon.Timestamp { return c.anchor.At(cycles, rate) }
	toMS := func(cycles int64) float64 {
		if rate <= 0 {
			return 0
		}
		return float64(cycles) * 1000 / rate
	}

	frameSpan := c.spans.AppendEmpty()
	frameID := c.spanID()
	frameSpan.SetTraceID(c.traceID)
	frameSpan.SetSpanID(frameID)
	frameSpan.SetName(fmt.Sprintf("frame %d", capt.Frame))
	frameSpan.SetKind(ptrace.SpanKindInternal)
	frameSpan.SetStartTimestamp(at(f.Start))
	frameSpan.SetEndTimestamp(at(max(f.EndOfFrame, f.Start)))
	frameSpan.Attributes().PutInt(AttrFrame, int64(capt.Frame))
	frameSpan.Attributes().PutDouble(AttrFrameMS, capt.FrameMS)
	frameSpan.Attributes().PutBool(AttrHitch, capt.Hitch)

	threadIDs := make([]pcommon.SpanID, len(f.Roots))
	threadSpans := make([]ptrace.Span, len(f.Roots))
	for p := range f.Roots {
		first := f.Root(p)
		if first == reconstruct.None && !hasCounters(f, p) {
			continue
		}
		name := fmt.Sprintf("partition %d", p)
		if p < len(capt.Partitions) && capt.Partitions[p] != "" {
			name = capt.Partitions[p]
		}
		start, end := f.Start, f.EndOfFrame
		if first != reconstruct.None {
			start = f.Node(first).Start
			end = start + uint64(f.RootSpan(p))
		}

		s := c.spans.AppendEmpty()
		threadIDs[p] = c.spanID()
		threadSpans[p] = s
		s.SetTraceID(c.traceID)
		s.SetSpanID(threadIDs[p])
		s.SetParentSpanID(frameID)
		s.SetName("thread " + name)
		s.SetKind(ptrace.SpanKindInternal)
		s.SetStartTimestamp(at(start))
		s.SetEndTimestamp(at(end))
		s.Attributes().PutStr(AttrThread, name)
	}

	nodeIDs := make([]pcommon.SpanID, len(f.Nodes))
	for p := range f.Roots {
		f.Walk(f.Root(p), func(idx int32, depth int) bool {
			n := f.Node(idx)
			parent := threadIDs[p]
			if n.Parent != reconstruct.None {
				parent = nodeIDs[n.Parent]
			}
			nodeIDs[idx] = c.spanID()

			s := c.spans.AppendEmpty()
			s.SetTraceID(c.traceID)
			s.SetSpanID(nodeIDs[idx])
			s.SetParentSpanID(parent)
			s.SetName(capt.Names.Lookup(n.Name))
			s.SetKind(ptrace.SpanKindInternal)
			s.SetStartTimestamp(at(n.Start))
			s.SetEndTimestamp(at(max(n.End, n.Start)))
			attrs := s.Attributes()
			attrs.PutStr(AttrCategory, n.Category.String())
			attrs.PutDouble(AttrExclusiveMS, toMS(n.Exclusive()))
			attrs.PutInt(AttrDepth, int64(depth))
			if n.Idle {
				attrs.PutBool(AttrIdle, true)
			}
			return true
		})
	}

	for _, cs := range f.Counters {
		p := int(cs.Partition)
		if p < 0 || p >= len(threadSpans) || threadIDs[p].IsEmpty() {
			continue
		}
		ev := threadSpans[p].Events().AppendEmpty()
		ev.SetName(capt.Names.Lookup(cs.Name))
		ev.SetTimestamp(at(cs.Timestamp))
		ev.Attributes().PutInt(AttrCounter, int64(cs.Value))
		ev.Attributes().PutStr(AttrCategory, cs.Category.String())
	}
}

func hasCounters(f *reconstruct.Forest, p int) bool {
	for _, cs := range f.Counters {
		if int(cs.Partition) == p {
			return true
		}
	}
	return false
}
