package profiler

import (
	"context"

	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
	"github.com/coral-mesh/frameprof/pkg/profiler/buffer"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
	"github.com/coral-mesh/frameprof/pkg/profiler/history"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// passInfo carries driver-side measurements into a processing pass.
type passInfo struct {
	frameMS   float64
	averageMS float64
	hitch     bool
	stalls    int
	hitches   int
}

// process reconstructs a closed buffer and refreshes every view. It runs on
// the background worker, or on the driver in synchronous mode.
func (p *Profiler) process(ctx context.Context, buf *buffer.FrameBuffer, info passInfo) {
	start := p.clock.Now()

	p.mu.Lock()
	mode, exclusive, reset, frozen := p.mode, p.exclusive, p.reset, p.frozen
	p.reset = resetNone
	req := p.planCapture(info.hitch)
	p.mu.Unlock()

	part := p.partition(mode)
	switch reset {
	case resetStructure:
		p.pool.Reset()
		p.ring.Reset(part.Size())
	case resetAccumulators:
		p.pool.ClearHistory()
	}

	frame := reconstruct.Frame{ID: buf.Frame, End: buf.EndOfFrame, Filter: buf.Filter}
	forest := p.recon.Build(buf, frame, part)
	stream := tracestream.Project(buf, frame, p.registry.Name, p.names)

	toMS := func(cycles int64) float64 { return clock.ToMillis(p.clock, cycles) }

	var top [][]TopEntry
	if !frozen {
		top = make([][]TopEntry, part.Size())
		opts := aggregate.Options{Mode: mode.SortMode(), Exclusive: exclusive, TopN: p.opts.TopN}
		if mode.Hierarchical() {
			p.pool.ZeroFrame(frame.ID)
		}
		for i := 0; i < part.Size(); i++ {
			if !part.Visible(i) {
				continue
			}
			if forest.Root(i) == reconstruct.None {
				p.ring.Record(i, frame.ID, 0)
				continue
			}
			p.scratch = aggregate.Flatten(p.scratch, forest, i, opts, p.names)
			top[i] = p.resolve(p.scratch)
			p.ring.Record(i, frame.ID, toMS(forest.RootSpan(i)))
			if mode.Hierarchical() {
				p.pool.Accumulate(forest, i, part.Name(i), exclusive, toMS, p.names)
			}
		}
		p.appendHistoryRow(forest, toMS)
	}

	if req.dump || req.hitch {
		threads := tracestream.Threads(stream)
		partitions := make([]string, part.Size())
		for i := range partitions {
			partitions[i] = part.Name(i)
		}
		p.writeCapture(ctx, req, &Capture{
			Frame:           frame.ID,
			FrameMS:         info.frameMS,
			Hitch:           req.hitch,
			First:           req.first,
			Last:            req.last,
			Start:           req.start,
			CyclesPerSecond: p.clock.CyclesPerSecond(),
			Threads:         threads,
			Partitions:      partitions,
			Events:          stream,
			Forest:          forest.Clone(),
			Names:           p.names,
		})
	}

	if buf.Overflowed() || forest.Overflowed {
		p.reportOverflow(buf, forest)
	}

	p.profiled = int64(p.clock.Now() - start)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !frozen {
		p.topN = top
		p.stream = stream
	}
	if info.hitch && p.opts.HitchFreeze {
		p.frozen = true
	}
	p.stats.Frame = frame.ID
	p.stats.FrameMS = info.frameMS
	p.stats.AverageMS = info.averageMS
	p.stats.ProfilingMS = toMS(p.profiled)
	p.stats.Events = buf.Len()
	p.stats.BufferHighWater = buf.HighWater()
	p.stats.BufferCapacity = buf.Capacity()
	p.stats.Nodes = len(forest.Nodes)
	p.stats.NodeCapacity = p.recon.Config().MaxNodes
	p.stats.HierarchyNodes = p.pool.Len()
	p.stats.Reconstruct = forest.Stats
	p.stats.Stalls = info.stalls
	p.stats.Hitches = info.hitches
	if forest.Message != "" {
		p.stats.Message = forest.Message
	}
	p.stats.Counters = p.stats.Counters[:0]
	for _, c := range forest.Counters {
		p.stats.Counters = append(p.stats.Counters, CounterValue{
			Slot:  c.Slot,
			Name:  p.names.Lookup(c.Name),
			Value: c.Value,
		})
	}
}

func (p *Profiler) resolve(entries []aggregate.Entry) []TopEntry {
	out := make([]TopEntry, len(entries))
	for i, e := range entries {
		out[i] = TopEntry{
			Name:   p.names.Lookup(e.Name),
			Cycles: e.Cycles,
			Time:   clock.ToMillis(p.clock, e.Cycles),
			Calls:  e.Calls,
		}
	}
	return out
}

// appendHistoryRow adds the selected partition's exclusive costs to the
// history table.
func (p *Profiler) appendHistoryRow(f *reconstruct.Forest, toMS func(int64) float64) {
	slot := p.opts.HistorySlot
	if f.Root(slot) == reconstruct.None {
		return
	}
	entries := aggregate.Merge(aggregate.Collect(nil, f, slot, true))
	aggregate.Sort(entries, aggregate.SortByName, p.names)

	samples := make([]history.Sample, len(entries))
	for i, e := range entries {
		samples[i] = history.Sample{Name: p.names.Lookup(e.Name), MS: toMS(e.Cycles), Calls: int(e.Calls)}
	}
	p.table.Append(history.Row{
		Frame:     f.Frame,
		Total:     toMS(f.RootSpan(slot)),
		Profiling: toMS(p.profiled),
		Samples:   samples,
	})
}

func (p *Profiler) reportOverflow(buf *buffer.FrameBuffer, f *reconstruct.Forest) {
	p.mu.Lock()
	first := !p.overflowSeen
	p.overflowSeen = true
	p.stats.Overflowed = true
	p.mu.Unlock()
	if !first {
		return
	}
	p.logger.Warn().
		Int32("frame", f.Frame).
		Bool("buffer_full", buf.Overflowed()).
		Int("per_thread_capacity", buf.Capacity()).
		Bool("nodes_full", f.Overflowed).
		Int("node_capacity", p.recon.Config().MaxNodes).
		Msg("Profiler capacity exceeded, events were dropped")
}
