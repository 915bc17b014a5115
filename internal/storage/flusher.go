package storage

import (
	"context"
	"slices"
	"time"

	"github.com/coral-mesh/frameprof/pkg/profiler/history"
)

// HistorySource yields the history table rows accumulated since the last
// call. *profiler.Profiler satisfies it.
type HistorySource interface {
	ExportHistoryTable() history.Export
}

// Run drains src into storage every interval until ctx is done, then
// performs a final flush bounded by a fresh timeout. Rows of a failed flush
// are held and written with the next one.
func (s *Storage) Run(ctx context.Context, src HistorySource, interval time.Duration) error {
	f := &flusher{s: s, src: src, maxHeld: history.DefaultMaxPending}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return f.flush(flushCtx)
		case <-ticker.C:
			if err := f.flush(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error().
					Err(err).
					Int("held_rows", len(f.held.Rows)).
					Msg("Failed to flush history table")
			}
		}
	}
}

// flusher carries the rows of failed stores over to the next attempt.
type flusher struct {
	s       *Storage
	src     HistorySource
	held    history.Export
	maxHeld int
}

func (f *flusher) flush(ctx context.Context) error {
	exp := joinExports(f.held, f.src.ExportHistoryTable())
	f.held = history.Export{}
	if err := f.s.Store(ctx, exp); err != nil {
		f.hold(exp)
		return err
	}
	return nil
}

// hold keeps at most maxHeld of the newest rows of exp.
func (f *flusher) hold(exp history.Export) {
	if over := len(exp.Rows) - f.maxHeld; f.maxHeld > 0 && over > 0 {
		exp.Rows = exp.Rows[over:]
		exp.Frames = exp.Frames[over:]
		f.s.logger.Warn().
			Int("rows", over).
			Int("max_held", f.maxHeld).
			Msg("Dropped unstored history rows")
	}
	f.held = exp
}

// joinExports appends b to a. Both come from the same table, so the header
// is fixed and shared.
func joinExports(a, b history.Export) history.Export {
	if len(a.Rows) == 0 {
		return b
	}
	if len(b.Rows) == 0 {
		return a
	}
	return history.Export{
		Header: a.Header,
		Frames: slices.Concat(a.Frames, b.Frames),
		Rows:   slices.Concat(a.Rows, b.Rows),
	}
}
