package workload

import (
	"context"
	"errors"
	"time"
)

// Ticker ends a profiler frame.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Run records frames and ticks t after each one, pacing frames to at least
// interval apart. It stops after frames frames, or when ctx is done if
// frames is zero. Cancellation is not an error.
func (w *Workload) Run(ctx context.Context, t Ticker, frames int, interval time.Duration) error {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for frame := 0; frames <= 0 || frame < frames; frame++ {
		if err := w.Frame(ctx, frame); err != nil {
			return ignoreCanceled(err)
		}
		if err := t.Tick(ctx); err != nil {
			return ignoreCanceled(err)
		}
		if ticker == nil {
			if err := ctx.Err(); err != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	w.logger.Info().Int("frames", frames).Msg("Workload finished")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
