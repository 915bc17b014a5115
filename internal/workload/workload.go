// Package workload drives a synthetic instrumented game loop against a
// profiler. It stands in for a real application when running frameprof
// on its own.
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
)

var systems = []string{
	"update", "physics", "animation", "ai", "audio",
	"network", "render_prep", "streaming", "particles", "ui",
}

// Config shapes the generated frames.
type Config struct {
	// Threads is the number of worker producers besides the main one.
	Threads int
	// Scopes is the number of top-level systems each worker runs per frame.
	Scopes int
	// Depth is the nesting depth below each system.
	Depth int
	// HitchEvery makes every Nth frame slow. Zero disables it.
	HitchEvery    int
	HitchDuration time.Duration
	// LeafWork is the busy time spent in each innermost scope.
	LeafWork time.Duration
	// Idle is the time each worker waits at the end of a frame.
	Idle time.Duration
}

// Workload owns the producers of the synthetic loop.
type Workload struct {
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time

	main    *profiler.Producer
	workers []*profiler.Producer
	active  *profiler.LevelCounter

	frameSym names.Symbol
	hitchSym names.Symbol
	waitSym  names.Symbol
	jobsSym  names.Symbol
	scopes   [][]names.Symbol
}

// New registers a main producer and cfg.Threads workers on p.
func New(p *profiler.Profiler, cfg Config, logger zerolog.Logger) (*Workload, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Scopes <= 0 {
		cfg.Scopes = 1
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}

	w := &Workload{
		cfg:      cfg,
		logger:   logger.With().Str("component", "workload").Logger(),
		clock:    time.Now,
		active:   p.NewLevelCounter("active_jobs", event.CategoryCPP),
		frameSym: p.Symbol("frame"),
		hitchSym: p.Symbol("hitch"),
		waitSym:  p.Symbol("wait_for_frame"),
		jobsSym:  p.Symbol("jobs"),
	}

	main, err := p.Register("main")
	if err != nil {
		return nil, fmt.Errorf("failed to register main producer: %w", err)
	}
	w.main = main

	for i := 0; i < cfg.Threads; i++ {
		pr, err := p.Register(fmt.Sprintf("worker-%d", i))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to register worker %d: %w", i, err)
		}
		w.workers = append(w.workers, pr)
	}

	// Level d holds the scope names used at nesting depth d.
	w.scopes = make([][]names.Symbol, cfg.Depth)
	for d := range w.scopes {
		for s := 0; s < cfg.Scopes; s++ {
			name := systems[s%len(systems)]
			if s >= len(systems) {
				name = fmt.Sprintf("%s_%d", name, s/len(systems))
			}
			if d > 0 {
				name = fmt.Sprintf("%s_stage%d", name, d)
			}
			w.scopes[d] = append(w.scopes[d], p.Symbol(name))
		}
	}

	w.logger.Debug().
		Int("threads", cfg.Threads).
		Int("scopes", cfg.Scopes).
		Int("depth", cfg.Depth).
		Msg("Workload registered")
	return w, nil
}

// Producers returns the main producer followed by the workers.
func (w *Workload) Producers() []*profiler.Producer {
	return append([]*profiler.Producer{w.main}, w.workers...)
}

// Frame records one frame: the main producer wraps the frame while the
// workers run their systems concurrently.
func (w *Workload) Frame(ctx context.Context, frame int) error {
	scope := w.main.BeginSymbol(w.frameSym, event.CategoryCPP)
	defer scope.End()

	if w.cfg.HitchEvery > 0 && frame%w.cfg.HitchEvery == w.cfg.HitchEvery-1 {
		h := w.main.BeginSymbol(w.hitchSym, event.CategoryCPP)
		err := sleep(ctx, w.cfg.HitchDuration)
		h.End()
		if err != nil {
			return err
		}
		w.logger.Debug().Int("frame", frame).Dur("duration", w.cfg.HitchDuration).Msg("Injected hitch")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, pr := range w.workers {
		g.Go(func() error {
			return w.runWorker(gctx, i, pr)
		})
	}
	err := g.Wait()
	w.main.CounterSymbol(w.jobsSym, event.CategoryCPP, int32(len(w.workers)*w.cfg.Scopes))
	return err
}

func (w *Workload) runWorker(ctx context.Context, index int, pr *profiler.Producer) error {
	for s := 0; s < w.cfg.Scopes; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		category := event.CategoryCPP
		if (s+index)%3 == 2 {
			category = event.CategoryScript
		}
		w.active.Increase(pr)
		w.nest(pr, 0, s, category)
		w.active.Decrease(pr)
	}

	wait := pr.BeginIdleSymbol(w.waitSym, event.CategoryCPP)
	defer wait.End()
	return sleep(ctx, w.cfg.Idle)
}

// nest opens scope s at depth d and recurses until the configured depth.
// Inner levels fan out to two children.
func (w *Workload) nest(pr *profiler.Producer, d, s int, category event.Category) {
	scope := pr.BeginSymbol(w.scopes[d][s], category)
	defer scope.End()

	if d+1 >= w.cfg.Depth {
		w.spin(w.cfg.LeafWork)
		return
	}
	for c := 0; c < 2; c++ {
		w.nest(pr, d+1, (s+c)%w.cfg.Scopes, category)
	}
}

func (w *Workload) spin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := w.clock().Add(d)
	for w.clock().Before(deadline) {
	}
}

// Close unregisters every producer.
func (w *Workload) Close() {
	if w.main != nil {
		w.main.Close()
	}
	for _, pr := range w.workers {
		pr.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
