// Package task runs background work on a single goroutine in submission
// order.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker stopped")

// Func is a unit of background work.
type Func func(ctx context.Context)

// Scheduler accepts background work.
type Scheduler interface {
	Submit(fn Func) error
}

// State is the lifecycle state of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker executes submitted functions one at a time, FIFO.
type Worker struct {
	logger zerolog.Logger
	queue  chan Func

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}

	state     atomic.Int32
	processed atomic.Uint64
}

// NewWorker creates a worker whose queue holds up to depth pending tasks.
func NewWorker(depth int, logger zerolog.Logger) *Worker {
	if depth <= 0 {
		depth = 1
	}
	return &Worker{
		logger: logger.With().Str("component", "task_worker").Logger(),
		queue:  make(chan Func, depth),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine. Tasks receive ctx.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for fn := range w.queue {
		w.state.Store(int32(StateRunning))
		w.execute(ctx, fn)
		w.processed.Add(1)
		w.state.Store(int32(StateIdle))
	}
	w.state.Store(int32(StateStopped))
}

func (w *Worker) execute(ctx context.Context, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Background task panicked")
		}
	}()
	fn(ctx)
}

// Submit queues fn. It blocks only while the queue is full.
func (w *Worker) Submit(fn Func) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	w.queue <- fn
	return nil
}

// Stop refuses new work and waits until queued tasks have run or ctx ends.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	started := w.started
	w.mu.Unlock()

	if !started {
		w.state.Store(int32(StateStopped))
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain background tasks: %w", ctx.Err())
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Processed returns the number of tasks executed so far.
func (w *Worker) Processed() uint64 { return w.processed.Load() }
