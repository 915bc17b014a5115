// Package retry re-runs transient failures with capped exponential backoff.
//
// History writes and inspector requests share it:
//
//	policy := retry.Storage().When(duckdb.IsTransactionConflict)
//	err := policy.Do(ctx, func() error { return store.insert(ctx, rows) })
//
// The wait before attempt n (n >= 1) is Base * 2^(n-1), capped by Cap, plus
// a jitter growing linearly with n.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, first one included.
	Attempts int
	// Base is the wait before the first retry.
	Base time.Duration
	// Cap bounds a single wait. Zero leaves it unbounded.
	Cap time.Duration
	// Jitter in [0, 1] adds wait * Jitter * n / Attempts.
	Jitter float64

	retryable func(error) bool
	onRetry   func(attempt int, wait time.Duration, err error)
}

// Storage is the policy for DuckDB history writes.
func Storage() Policy {
	return Policy{Attempts: 10, Base: 10 * time.Millisecond, Cap: 500 * time.Millisecond, Jitter: 0.1}
}

// Client is the policy for inspector requests.
func Client() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: time.Second}
}

// When returns a copy of p that only retries errors accepted by fn.
// Without it every error is retried.
func (p Policy) When(fn func(error) bool) Policy {
	p.retryable = fn
	return p
}

// Notify returns a copy of p that calls fn before each wait.
func (p Policy) Notify(fn func(attempt int, wait time.Duration, err error)) Policy {
	p.onRetry = fn
	return p
}

// Do calls fn until it succeeds, fails with a non-retryable error or
// p.Attempts calls have been made. A cancelled ctx during a wait returns
// ctx.Err().
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)

	var err error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			wait := p.Wait(n)
			if p.onRetry != nil {
				p.onRetry(n, wait, err)
			}
			if serr := sleep(ctx, wait); serr != nil {
				return serr
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if p.retryable != nil && !p.retryable(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// Wait returns the backoff before attempt n.
func (p Policy) Wait(n int) time.Duration {
	if n < 1 {
		return 0
	}
	wait := p.Base << min(n-1, 30)
	if p.Cap > 0 && wait > p.Cap {
		wait = p.Cap
	}
	if p.Jitter > 0 && p.Attempts > 0 {
		wait += time.Duration(float64(wait) * p.Jitter * float64(n) / float64(p.Attempts))
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
