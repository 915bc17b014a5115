package profiler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/internal/testutil"
	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/registry"
	"github.com/coral-mesh/frameprof/pkg/profiler/task"
)

const frameCycles = 1_000_000

func newTestProfiler(t *testing.T, mutate func(*Options)) (*Profiler, *clock.Manual) {
	t.Helper()
	return newTestProfilerWithLogger(t, mutate, zerolog.Nop())
}

func newTestProfilerWithLogger(t *testing.T, mutate func(*Options), logger zerolog.Logger) (*Profiler, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1, 1e9)
	opts := DefaultOptions()
	opts.MaxThreads = 4
	opts.EventsPerThread = 1024
	opts.Clock = clk
	opts.Synchronous = true
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, clk
}

// emitFrame records an "update" scope wrapping 100 "leaf" scopes of 50
// cycles each, starting at base.
func emitFrame(clk *clock.Manual, pr *Producer, base uint64) {
	clk.Set(base)
	update := pr.Begin("update", event.CategoryCPP)
	for i := uint64(0); i < 100; i++ {
		clk.Set(base + 10 + i*100)
		leaf := pr.Begin("leaf", event.CategoryCPP)
		clk.Set(base + 10 + i*100 + 50)
		leaf.End()
	}
	clk.Set(base + 10010)
	update.End()
}

func TestProfiler_EndToEndTwoThreads(t *testing.T) {
	p, clk := newTestProfiler(t, func(o *Options) { o.Exclusive = true })

	t0, err := p.Register("t0")
	require.NoError(t, err)
	t1, err := p.Register("t1")
	require.NoError(t, err)

	ctx := context.Background()
	for frame := uint64(0); frame < 3; frame++ {
		base := (frame + 1) * frameCycles
		emitFrame(clk, t0, base)
		emitFrame(clk, t1, base+20)
		clk.Set(base + 20000)
		require.NoError(t, p.Tick(ctx))
	}

	for _, pr := range []*Producer{t0, t1} {
		top := p.SnapshotTopN(int(pr.Slot()))
		require.Len(t, top, 2)

		var cycles int64
		for _, e := range top {
			cycles += e.Cycles
		}
		assert.Equal(t, int64(10010), cycles)

		assert.Equal(t, "update", top[0].Name)
		assert.Equal(t, int64(5010), top[0].Cycles)
		assert.Equal(t, "leaf", top[1].Name)
		assert.Equal(t, uint32(100), top[1].Calls)
		assert.InDelta(t, 0.005, top[1].Time, 1e-9)

		leaf := p.Hierarchy().Find(pr.Name(), "update", "leaf")
		require.NotEqual(t, int32(-1), leaf)
		node, ok := p.Hierarchy().Get(leaf)
		require.True(t, ok)
		assert.Equal(t, 100, node.Calls)

		hist := p.SnapshotHistory(int(pr.Slot()))
		assert.InDelta(t, 0.01001, hist[len(hist)-1], 1e-9)
	}

	rows := p.SnapshotHierarchy()
	var leafRows int
	for _, r := range rows {
		if r.Name == "leaf" {
			leafRows++
			assert.Equal(t, 100, r.Calls)
			assert.Equal(t, 3, r.Depth)
		}
	}
	assert.Equal(t, 2, leafRows, "one leaf chain per thread")

	exp := p.ExportHistoryTable()
	assert.Equal(t, []string{
		"Total", "profiling",
		"leaf (ms)", "update (ms)", "Missing (ms)",
		"leaf (calls)", "update (calls)", "Missing (calls)",
	}, exp.Header)
	assert.Equal(t, []int32{0, 1, 2}, exp.Frames)

	stream := p.ExportTraceEventStream()
	assert.Len(t, stream, 2*202)
	for i := 1; i < len(stream); i++ {
		assert.LessOrEqual(t, stream[i-1].Timestamp, stream[i].Timestamp)
	}

	stats := p.Statistics()
	assert.Equal(t, int32(2), stats.Frame)
	assert.Equal(t, 404, stats.Events)
	assert.Len(t, stats.Threads, 2)
	assert.False(t, stats.Overflowed)
}

func TestProfiler_AsyncWorkerProcessesFrames(t *testing.T) {
	p, clk := newTestProfiler(t, func(o *Options) { o.Synchronous = false })
	pr, err := p.Register("main")
	require.NoError(t, err)

	ctx := context.Background()
	for frame := uint64(1); frame <= 5; frame++ {
		emitFrame(clk, pr, frame*frameCycles)
		clk.Set(frame*frameCycles + 20000)
		require.NoError(t, p.Tick(ctx))
	}
	require.NoError(t, p.Wait(ctx))

	top := p.SnapshotTopN(int(pr.Slot()))
	require.Len(t, top, 2)
	assert.Equal(t, "update", top[0].Name)
	assert.Equal(t, int64(10010), top[0].Cycles)
	assert.Equal(t, int32(4), p.Statistics().Frame)
}

type gatedScheduler struct {
	gate chan struct{}
}

func (s *gatedScheduler) Submit(fn task.Func) error {
	go func() {
		<-s.gate
		fn(context.Background())
	}()
	return nil
}

func TestProfiler_BackpressureKeepsFramesApart(t *testing.T) {
	sched := &gatedScheduler{gate: make(chan struct{})}
	p, clk := newTestProfiler(t, func(o *Options) {
		o.Synchronous = false
		o.Scheduler = sched
		o.StallWarnAfter = 5 * time.Millisecond
	})
	pr, err := p.Register("main")
	require.NoError(t, err)

	clk.Set(100)
	pr.Begin("first", event.CategoryCPP).End()
	require.NoError(t, p.Tick(context.Background()))
	require.Equal(t, int32(1), p.Frame())

	// The first pass is held, so the next frame keeps collecting.
	clk.Set(200)
	second := pr.Begin("second", event.CategoryCPP)
	clk.Set(260)
	second.End()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	err = p.Tick(ctx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), p.Frame(), "no swap while a pass is in flight")
	assert.Equal(t, 2, p.buffers.Active().Len(), "the held frame's buffer is not the one collecting")

	sched.gate <- struct{}{}
	require.NoError(t, p.Wait(context.Background()))
	top := p.SnapshotTopN(0)
	require.Len(t, top, 1)
	assert.Equal(t, "first", top[0].Name)

	clk.Set(300)
	require.NoError(t, p.Tick(context.Background()))
	sched.gate <- struct{}{}
	require.NoError(t, p.Wait(context.Background()))

	top = p.SnapshotTopN(0)
	require.Len(t, top, 1)
	assert.Equal(t, "second", top[0].Name)
	assert.Equal(t, int64(60), top[0].Cycles)
	assert.Equal(t, 1, p.Statistics().Stalls)
}

func TestProfiler_MismatchedCloseAcrossProducers(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	a, err := p.Register("a")
	require.NoError(t, err)
	b, err := p.Register("b")
	require.NoError(t, err)

	clk.Set(100)
	job := a.Begin("job", event.CategoryCPP)
	clk.Set(150)
	b.End(job)
	clk.Set(400)
	require.NoError(t, p.Tick(context.Background()))

	top := p.SnapshotTopN(int(a.Slot()))
	require.Len(t, top, 1)
	assert.Equal(t, int64(300), top[0].Cycles, "job is clamped to the frame end")
	assert.Empty(t, p.SnapshotTopN(int(b.Slot())))
	assert.Equal(t, 1, p.Statistics().Reconstruct.Mismatched)
}

func TestProfiler_RegisterExhaustion(t *testing.T) {
	p, _ := newTestProfiler(t, func(o *Options) { o.MaxThreads = 1 })

	_, err := p.Register("main")
	require.NoError(t, err)
	_, err = p.Register("extra")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNoSlot))
}

func TestProfiler_UnregisterDuringPassIsDeferred(t *testing.T) {
	sched := &gatedScheduler{gate: make(chan struct{})}
	p, clk := newTestProfiler(t, func(o *Options) {
		o.Synchronous = false
		o.Scheduler = sched
	})
	pr, err := p.Register("worker")
	require.NoError(t, err)

	clk.Set(10)
	pr.Begin("job", event.CategoryCPP).End()
	require.NoError(t, p.Tick(context.Background()))

	pr.Close()
	slots := p.Threads()
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Live, "removal waits for the pass")

	sched.gate <- struct{}{}
	require.NoError(t, p.Wait(context.Background()))
	assert.True(t, p.Threads()[0].Live, "frame 1 was collecting when the producer closed")

	// Frame 1 holds no events, so it retires the slot without a pass.
	clk.Set(20)
	require.NoError(t, p.Tick(context.Background()))

	slots = p.Threads()
	require.Len(t, slots, 1)
	assert.False(t, slots[0].Live)
	assert.Equal(t, registry.DeletedName, slots[0].Name)
	assert.Equal(t, int32(-1), p.Hierarchy().Find("worker"))
	assert.False(t, pr.Begin("late", event.CategoryCPP).Recorded())
}

func TestProfiler_ClosedProducerKeepsSlotUntilFrameProcessed(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	loader, err := p.Register("loader")
	require.NoError(t, err)

	clk.Set(100)
	loader.Begin("load_level", event.CategoryCPP)
	loader.Close()

	audio, err := p.Register("audio")
	require.NoError(t, err)
	require.NotEqual(t, loader.Slot(), audio.Slot(), "slot still holds buffered events")

	clk.Set(300)
	mix := audio.Begin("mix", event.CategoryCPP)
	clk.Set(400)
	mix.End()
	clk.Set(1000)
	require.NoError(t, p.Tick(context.Background()))

	top := p.SnapshotTopN(int(audio.Slot()))
	require.Len(t, top, 1)
	assert.Equal(t, "mix", top[0].Name)

	top = p.SnapshotTopN(int(loader.Slot()))
	require.Len(t, top, 1, "final frame of the closed producer is reported")
	assert.Equal(t, "load_level", top[0].Name)

	assert.False(t, p.Threads()[loader.Slot()].Live)
	again, err := p.Register("network")
	require.NoError(t, err)
	assert.Equal(t, loader.Slot(), again.Slot())
}

func TestProfiler_CloseCanBeRetried(t *testing.T) {
	sched := &gatedScheduler{gate: make(chan struct{})}
	p, clk := newTestProfiler(t, func(o *Options) {
		o.Synchronous = false
		o.Scheduler = sched
	})
	pr, err := p.Register("main")
	require.NoError(t, err)

	clk.Set(10)
	pr.Begin("job", event.CategoryCPP).End()
	require.NoError(t, p.Tick(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sched.gate <- struct{}{}
	require.NoError(t, p.Close(context.Background()))
	top := p.SnapshotTopN(0)
	require.Len(t, top, 1, "held pass finished before Close returned")
	assert.Equal(t, "job", top[0].Name)
	assert.ErrorIs(t, p.Tick(context.Background()), ErrClosed)
}

func TestProfiler_CloseStopsWorkerOnRetry(t *testing.T) {
	p, clk := newTestProfiler(t, func(o *Options) { o.Synchronous = false })
	pr, err := p.Register("main")
	require.NoError(t, err)

	clk.Set(10)
	pr.Begin("job", event.CategoryCPP).End()
	require.NoError(t, p.Tick(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Close(ctx)

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, task.StateStopped, p.worker.State())
	assert.NoError(t, p.Close(context.Background()))
}

func TestProfiler_FilterChangeResetsHierarchy(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	pr, err := p.Register("main")
	require.NoError(t, err)

	emit := func(base uint64) {
		clk.Set(base)
		cpu := pr.Begin("cpu", event.CategoryCPP)
		clk.Set(base + 10)
		cpu.End()
		gpu := pr.Begin("gpu", event.CategoryGPU)
		clk.Set(base + 30)
		gpu.End()
		clk.Set(base + 100)
		require.NoError(t, p.Tick(context.Background()))
	}

	emit(1000)
	assert.NotEqual(t, int32(-1), p.Hierarchy().Find("main", "cpu"))
	assert.Len(t, p.SnapshotTopN(0), 2)

	p.SetFilter(event.CategoryGPU)
	emit(2000)

	top := p.SnapshotTopN(0)
	require.Len(t, top, 1)
	assert.Equal(t, "gpu", top[0].Name)
	assert.Equal(t, int32(-1), p.Hierarchy().Find("main", "cpu"))
	assert.NotEqual(t, int32(-1), p.Hierarchy().Find("main", "gpu"))

	assert.Equal(t, event.CategoryScript, p.NextCategory())
	assert.Equal(t, event.CategoryGPU, p.PrevCategory())
}

func TestProfiler_SortModes(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	pr, err := p.Register("main")
	require.NoError(t, err)

	record := func(name string, calls int, each uint64) {
		for i := 0; i < calls; i++ {
			s := pr.Begin(name, event.CategoryCPP)
			clk.Advance(each)
			s.End()
		}
	}

	clk.Set(1000)
	record("slow", 1, 500)
	record("busy", 5, 10)
	record("alpha", 2, 20)
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, "slow", p.SnapshotTopN(0)[0].Name)

	require.NoError(t, p.SetSortMode(aggregate.SortByName))
	assert.Equal(t, ModeSortByName, p.Mode())
	record("slow", 1, 500)
	record("busy", 5, 10)
	record("alpha", 2, 20)
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, "alpha", p.SnapshotTopN(0)[0].Name)

	require.NoError(t, p.SetMode(ModeSortByCalls))
	record("slow", 1, 500)
	record("busy", 5, 10)
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, "busy", p.SnapshotTopN(0)[0].Name)
}

type captureSink struct {
	mu       sync.Mutex
	captures []*Capture
	err      error
}

func (s *captureSink) WriteCapture(_ context.Context, c *Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = append(s.captures, c)
	return s.err
}

func TestProfiler_DumpFrames(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	pr, err := p.Register("main")
	require.NoError(t, err)

	assert.ErrorIs(t, p.DumpFrames(2), ErrNoSink)
	assert.Equal(t, DumpFailed, p.DumpState())

	sink := &captureSink{}
	p.AddSink(sink)
	require.NoError(t, p.DumpFrames(2))
	assert.Equal(t, DumpActive, p.DumpState())

	for frame := uint64(1); frame <= 3; frame++ {
		emitFrame(clk, pr, frame*frameCycles)
		clk.Set(frame*frameCycles + 20000)
		require.NoError(t, p.Tick(context.Background()))
	}

	require.Len(t, sink.captures, 2)
	first, last := sink.captures[0], sink.captures[1]
	assert.True(t, first.First)
	assert.False(t, first.Last)
	assert.True(t, last.Last)
	assert.Equal(t, first.Start, last.Start)
	assert.Equal(t, uint64(frameCycles), first.Start)
	assert.Len(t, first.Events, 202)
	assert.Equal(t, "main", first.Threads[pr.Slot()])
	assert.NotNil(t, first.Forest)
	assert.Equal(t, DumpCompleted, p.DumpState())
}

func TestProfiler_DumpFailure(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	pr, err := p.Register("main")
	require.NoError(t, err)
	p.AddSink(&captureSink{err: errors.New("disk full")})

	require.NoError(t, p.DumpFrames(ForceDumpFrames))
	emitFrame(clk, pr, frameCycles)
	clk.Set(frameCycles + 20000)
	require.NoError(t, p.Tick(context.Background()))

	assert.Equal(t, DumpFailed, p.DumpState())
}

func TestProfiler_HitchCaptureAndFreeze(t *testing.T) {
	p, clk := newTestProfiler(t, func(o *Options) {
		o.HitchCapture = true
		o.HitchFreeze = true
	})
	pr, err := p.Register("main")
	require.NoError(t, err)
	sink := &captureSink{}
	p.AddSink(sink)

	ctx := context.Background()
	tick := func(at uint64) {
		clk.Set(at - 500)
		pr.Begin("work", event.CategoryCPP).End()
		clk.Set(at)
		require.NoError(t, p.Tick(ctx))
	}

	tick(16 * frameCycles)
	tick(32 * frameCycles)
	assert.Empty(t, sink.captures)
	assert.False(t, p.Frozen())

	tick(300 * frameCycles)
	require.Len(t, sink.captures, 1)
	assert.True(t, sink.captures[0].Hitch)
	assert.InDelta(t, 268, sink.captures[0].FrameMS, 1e-6)
	assert.True(t, p.Frozen())
	assert.Equal(t, 1, p.Statistics().Hitches)

	frozenFrame := p.ExportTraceEventStream()[0].Timestamp
	tick(316 * frameCycles)
	assert.Equal(t, frozenFrame, p.ExportTraceEventStream()[0].Timestamp, "views do not move while frozen")

	p.Unfreeze()
	tick(332 * frameCycles)
	assert.NotEqual(t, frozenFrame, p.ExportTraceEventStream()[0].Timestamp)
}

func TestProfiler_DisabledRecordsNothing(t *testing.T) {
	p, clk := newTestProfiler(t, func(o *Options) { o.Mode = ModeOff })
	pr, err := p.Register("main")
	require.NoError(t, err)

	clk.Set(10)
	assert.False(t, pr.Begin("ignored", event.CategoryCPP).Recorded())
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, int32(0), p.Frame())

	require.NoError(t, p.SetMode(ModeHierarchical))
	assert.True(t, p.Enabled())
	assert.True(t, pr.Begin("counted", event.CategoryCPP).Recorded())

	p.Disable()
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, int32(1), p.Frame(), "the frame recorded before disabling is still handed off")
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, int32(1), p.Frame())
}

func TestProfiler_LevelCounter(t *testing.T) {
	p, clk := newTestProfiler(t, nil)
	pr, err := p.Register("main")
	require.NoError(t, err)
	jobs := p.NewLevelCounter("jobs", event.CategoryCPP)

	clk.Set(10)
	jobs.Increase(pr)
	jobs.Increase(pr)
	jobs.Decrease(pr)
	pr.Counter("queue", event.CategoryCPP, 9)
	require.NoError(t, p.Tick(context.Background()))

	assert.Equal(t, int32(1), jobs.Level())
	counters := p.Statistics().Counters
	require.Len(t, counters, 4)
	assert.Equal(t, CounterValue{Slot: pr.Slot(), Name: "jobs", Value: 1}, counters[2])
	assert.Equal(t, int32(9), counters[3].Value)
}

func TestProfiler_Overflow(t *testing.T) {
	logger, logs := testutil.NewBufferLogger()
	p, clk := newTestProfilerWithLogger(t, func(o *Options) { o.EventsPerThread = 4 }, logger)
	pr, err := p.Register("main")
	require.NoError(t, err)

	for frame := 0; frame < 2; frame++ {
		clk.Set(uint64(frame+1) * frameCycles)
		for i := 0; i < 4; i++ {
			pr.Begin("s", event.CategoryCPP).End()
		}
		require.NoError(t, p.Tick(context.Background()))
	}

	stats := p.Statistics()
	assert.True(t, stats.Overflowed)
	assert.Equal(t, 4, stats.BufferHighWater)
	assert.Equal(t, 1, logs.Count("Profiler capacity exceeded"), "overflow is reported once")
}

func TestProfiler_Close(t *testing.T) {
	p, _ := newTestProfiler(t, func(o *Options) { o.Synchronous = false })

	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Tick(context.Background()), ErrClosed)
	_, err := p.Register("late")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Close(context.Background()))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("sort_by_numcalls")
	require.NoError(t, err)
	assert.Equal(t, ModeSortByCalls, m)
	assert.True(t, ModeGraphs.Hierarchical())
	assert.False(t, ModeCores.Hierarchical())

	_, err = ParseMode("CPU_GPU")
	assert.Error(t, err)
	assert.Len(t, ModeNames(), 7)
}
