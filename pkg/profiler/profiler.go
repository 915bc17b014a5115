// Package profiler is a frame-based instrumentation profiler.
//
// Producers record scope and counter events into a double-buffered store
// without locks. Once per frame the driver calls Tick, which swaps the
// buffers and hands the closed one to a single background worker. The worker
// rebuilds per-partition call trees and refreshes the flat top-N view, the
// persistent hierarchy and the frame history. At most one processing pass is
// in flight; Tick waits for the previous one before swapping again.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
	"github.com/coral-mesh/frameprof/pkg/profiler/buffer"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/history"
	"github.com/coral-mesh/frameprof/pkg/profiler/hitch"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
	"github.com/coral-mesh/frameprof/pkg/profiler/registry"
	"github.com/coral-mesh/frameprof/pkg/profiler/task"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// ErrClosed is returned by operations on a closed profiler.
var ErrClosed = errors.New("profiler closed")

// resetLevel is the pending reset applied at the start of the next pass.
type resetLevel int

const (
	resetNone resetLevel = iota
	// resetAccumulators clears graph history.
	resetAccumulators
	// resetStructure drops the hierarchy and the frame history.
	resetStructure
)

// Profiler owns the buffers, registry and views of one profiling session.
type Profiler struct {
	opts   Options
	logger zerolog.Logger
	clock  clock.Source

	names    *names.Interner
	registry *registry.Registry
	buffers  *buffer.Manager
	threads  *registry.ThreadPartition
	cores    *registry.CorePartition

	worker *task.Worker
	sched  task.Scheduler

	// done holds a token whenever no processing pass is in flight.
	done chan struct{}

	enabled atomic.Bool
	drain   atomic.Bool
	closed  atomic.Bool

	closeMu  sync.Mutex
	shutdown bool

	// Driver state, touched only by Tick.
	detector *hitch.Detector
	lastTick uint64
	stalls   int
	hitches  int

	// Worker state, touched only by the processing pass.
	recon    *reconstruct.Reconstructor
	scratch  []aggregate.Entry
	profiled int64

	pool  *hierarchy.Pool
	ring  *history.Ring
	table *history.Table

	mu            sync.Mutex
	mode          Mode
	exclusive     bool
	filter        event.Category
	reset         resetLevel
	frozen        bool
	topN          [][]TopEntry
	stream        []tracestream.Event
	stats         Statistics
	sinks         []CaptureSink
	dump          DumpState
	dumpRemaining int
	dumpStart     uint64
	overflowSeen  bool
}

// New creates a profiler and starts its background worker unless a
// scheduler is supplied.
func New(opts Options, logger zerolog.Logger) (*Profiler, error) {
	opts = opts.withDefaults()
	logger = logger.With().Str("component", "profiler").Logger()

	p := &Profiler{
		opts:      opts,
		logger:    logger,
		clock:     opts.Clock,
		names:     names.NewInterner(),
		registry:  registry.New(opts.MaxThreads, logger),
		buffers:   buffer.NewManager(opts.MaxThreads, opts.EventsPerThread),
		done:      make(chan struct{}, 1),
		detector:  hitch.New(opts.Hitch),
		recon:     reconstruct.New(opts.Reconstruct),
		pool:      hierarchy.New(opts.Hierarchy, logger),
		table:     history.NewTable(opts.HistoryTableRows),
		mode:      opts.Mode,
		exclusive: opts.Exclusive,
		filter:    opts.Filter,
	}
	p.threads = registry.Threads(p.registry)
	p.registry.OnProvision(p.buffers.Provision)

	if opts.Mode == ModeCores {
		if err := p.ensureCores(); err != nil {
			return nil, err
		}
	}
	p.ring = history.NewRing(p.partition(opts.Mode).Size(), opts.HistoryLength)
	p.topN = make([][]TopEntry, p.partition(opts.Mode).Size())

	p.sched = opts.Scheduler
	if p.sched == nil {
		p.worker = task.NewWorker(1, logger)
		p.worker.Start(context.Background())
		p.sched = p.worker
	}

	p.done <- struct{}{}
	p.enabled.Store(opts.Mode != ModeOff)
	return p, nil
}

func (p *Profiler) ensureCores() error {
	if p.cores != nil {
		return nil
	}
	cores, err := registry.Cores()
	if err != nil {
		return fmt.Errorf("failed to build core partition: %w", err)
	}
	p.cores = cores
	return nil
}

// partition must be called with a mode snapshot.
func (p *Profiler) partition(mode Mode) registry.Partition {
	if mode == ModeCores && p.cores != nil {
		return p.cores
	}
	return p.threads
}

// Logger returns the profiler's diagnostic logger.
func (p *Profiler) Logger() zerolog.Logger { return p.logger }

// Clock returns the cycle source used for timestamps.
func (p *Profiler) Clock() clock.Source { return p.clock }

// Names resolves recorded symbols.
func (p *Profiler) Names() names.Resolver { return p.names }

// Symbol interns name for use with the symbol recording calls.
func (p *Profiler) Symbol(name string) names.Symbol { return p.names.Intern(name) }

// Hierarchy exposes the persistent hierarchy for navigation.
func (p *Profiler) Hierarchy() *hierarchy.Pool { return p.pool }

// Enabled reports whether producers are recording.
func (p *Profiler) Enabled() bool { return p.enabled.Load() }

// Enable starts recording from the next event on.
func (p *Profiler) Enable() {
	if p.closed.Load() {
		return
	}
	p.enabled.Store(true)
}

// Disable stops recording. The next Tick still hands off what was recorded.
func (p *Profiler) Disable() {
	if p.enabled.Swap(false) {
		p.drain.Store(true)
	}
}

// Register assigns a slot to a new producer.
func (p *Profiler) Register(name string) (*Producer, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	pr := &Producer{p: p, name: name}
	pr.core.Store(-1)
	slot, err := p.registry.Register(name, pr)
	if err != nil {
		return nil, err
	}
	pr.slot = slot
	return pr, nil
}

// unregister retires slot once no buffer can hold its events. While frames
// are still being handed off that is after the frame now being collected.
func (p *Profiler) unregister(slot int32) {
	after := registry.AnyPass
	if p.enabled.Load() || p.drain.Load() {
		after = p.buffers.Frame()
	}
	if before, ok := p.registry.Unregister(slot, after); ok {
		p.forget([]registry.Slot{before})
		p.mu.Lock()
		if int(before.ID) < len(p.topN) && p.mode != ModeCores {
			p.topN[before.ID] = nil
		}
		p.mu.Unlock()
	}
}

// forget drops the persistent per-thread state of retired slots. The top-N
// of the frame just processed is left in place until the next pass replaces
// it.
func (p *Profiler) forget(slots []registry.Slot) {
	if len(slots) == 0 {
		return
	}
	p.mu.Lock()
	cores := p.mode == ModeCores
	p.mu.Unlock()
	if cores {
		return
	}
	for _, s := range slots {
		p.pool.PruneChild(s.Name)
		p.ring.Clear(int(s.ID))
	}
}

// Threads returns the registered producer slots.
func (p *Profiler) Threads() []registry.Slot { return p.registry.Slots() }

// SetThreadVisible shows or hides a producer in every view.
func (p *Profiler) SetThreadVisible(slot int32, visible bool) {
	p.registry.SetVisible(slot, visible)
}

// Frame returns the id of the frame being collected.
func (p *Profiler) Frame() int32 { return p.buffers.Frame() }

// Tick ends the current frame. It waits for the previous processing pass,
// swaps the buffers and schedules the closed buffer for processing. Tick
// must only be called from one goroutine.
func (p *Profiler) Tick(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	now := p.clock.Now()
	var frameMS float64
	if p.lastTick != 0 && now > p.lastTick {
		frameMS = clock.ToMillis(p.clock, int64(now-p.lastTick))
	}
	p.lastTick = now

	if !p.enabled.Load() && !p.drain.Swap(false) {
		return nil
	}

	stalled, err := p.acquire(ctx)
	if stalled {
		p.stalls++
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	closed := p.buffers.Swap(now, filter)

	isHitch := frameMS > 0 && p.detector.Observe(frameMS)
	if isHitch {
		p.hitches++
		p.logger.Info().
			Int32("frame", closed.Frame).
			Float64("frame_ms", frameMS).
			Float64("average_ms", p.detector.Average()).
			Msg("Hitch detected")
	}

	if closed.Len() == 0 {
		p.recordIdleFrame(closed.Frame, frameMS)
		p.forget(p.registry.Retire(closed.Frame))
		p.release()
		return nil
	}

	info := passInfo{
		frameMS:   frameMS,
		averageMS: p.detector.Average(),
		hitch:     isHitch,
		stalls:    p.stalls,
		hitches:   p.hitches,
	}
	p.registry.BeginPass()
	pass := func(ctx context.Context) {
		defer p.release()
		p.process(ctx, closed, info)
		p.forget(p.registry.EndPass(closed.Frame))
	}

	if p.opts.Synchronous {
		pass(ctx)
		return nil
	}
	if err := p.sched.Submit(pass); err != nil {
		p.registry.AbortPass()
		p.release()
		return fmt.Errorf("failed to schedule frame %d: %w", closed.Frame, err)
	}
	return nil
}

// acquire takes the pass token, logging while the previous pass is late. It
// reports whether it had to wait.
func (p *Profiler) acquire(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		return false, nil
	default:
	}

	started := time.Now()
	ticker := time.NewTicker(p.opts.StallWarnAfter)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			p.logger.Debug().
				Dur("waited", time.Since(started)).
				Msg("Previous frame processing finished")
			return true, nil
		case <-ticker.C:
			p.logger.Warn().
				Float64("stall_ms", float64(time.Since(started).Microseconds())/1000.0).
				Msg("Tick stalled waiting for frame processing")
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (p *Profiler) release() {
	select {
	case p.done <- struct{}{}:
	default:
	}
}

func (p *Profiler) recordIdleFrame(frame int32, frameMS float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Frame = frame
	p.stats.FrameMS = frameMS
	p.stats.AverageMS = p.detector.Average()
	p.stats.Events = 0
	p.stats.Stalls = p.stalls
	p.stats.Hitches = p.hitches
}

// Wait blocks until no processing pass is in flight.
func (p *Profiler) Wait(ctx context.Context) error {
	if _, err := p.acquire(ctx); err != nil {
		return err
	}
	p.release()
	return nil
}

// Close stops recording, drains the in-flight pass and stops the worker.
// No pass is aborted. A Close that gives up on ctx can be repeated to
// finish the shutdown.
func (p *Profiler) Close(ctx context.Context) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.shutdown {
		return nil
	}
	p.enabled.Store(false)
	p.closed.Store(true)

	if _, err := p.acquire(ctx); err != nil {
		return fmt.Errorf("failed to drain processing: %w", err)
	}
	defer p.release()
	if p.worker != nil {
		if err := p.worker.Stop(ctx); err != nil {
			return err
		}
	}
	p.shutdown = true
	p.logger.Debug().Msg("Profiler closed")
	return nil
}

// Mode returns the current view mode.
func (p *Profiler) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode switches the view. ModeOff disables recording. Switching between
// per-thread and per-core partitioning resets the hierarchy.
func (p *Profiler) SetMode(m Mode) error {
	if m == ModeCores {
		if err := p.ensureCores(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	prev := p.mode
	p.mode = m
	switch {
	case (prev == ModeCores) != (m == ModeCores):
		p.reset = resetStructure
	case prev.SortMode() != m.SortMode() && p.reset < resetAccumulators:
		p.reset = resetAccumulators
	}
	p.mu.Unlock()

	if m == ModeOff {
		p.Disable()
	} else {
		p.Enable()
	}
	return nil
}

// SetSortMode selects the flat view ordering.
func (p *Profiler) SetSortMode(s aggregate.SortMode) error {
	return p.SetMode(modeForSort(s))
}

// Exclusive reports whether views report exclusive cost.
func (p *Profiler) Exclusive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exclusive
}

// SetExclusive switches between exclusive and inclusive cost.
func (p *Profiler) SetExclusive(exclusive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exclusive == exclusive {
		return
	}
	p.exclusive = exclusive
	if p.reset < resetAccumulators {
		p.reset = resetAccumulators
	}
}

// Filter returns the category filter applied to new frames.
func (p *Profiler) Filter() event.Category {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// SetFilter changes the category filter. The hierarchy is rebuilt from the
// next processed frame.
func (p *Profiler) SetFilter(c event.Category) {
	if c == 0 {
		c = event.CategoryAll
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filter == c {
		return
	}
	p.filter = c
	p.reset = resetStructure
	p.logger.Debug().Str("filter", c.String()).Msg("Category filter changed")
}

// NextCategory cycles the filter forward through the selectable categories.
func (p *Profiler) NextCategory() event.Category {
	return p.cycleCategory(1)
}

// PrevCategory cycles the filter backwards.
func (p *Profiler) PrevCategory() event.Category {
	return p.cycleCategory(-1)
}

func (p *Profiler) cycleCategory(dir int) event.Category {
	cats := event.Categories()
	cur := p.Filter()
	pos := len(cats) - 1
	for i, c := range cats {
		if c == cur {
			pos = i
			break
		}
	}
	next := cats[(pos+dir+len(cats))%len(cats)]
	p.SetFilter(next)
	return next
}

// Freeze stops refreshing the views. Recording and captures continue.
func (p *Profiler) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Unfreeze resumes view refreshes.
func (p *Profiler) Unfreeze() {
	p.mu.Lock()
	p.frozen = false
	p.mu.Unlock()
}

// Frozen reports whether the views are frozen.
func (p *Profiler) Frozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}
