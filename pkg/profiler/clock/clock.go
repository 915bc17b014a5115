// Package clock provides the cycle source used to timestamp events.
package clock

import (
	"sync/atomic"
	"time"
)

// Source is a monotonic cycle counter.
type Source interface {
	// Now returns the current cycle count.
	Now() uint64
	// CyclesPerSecond returns the rate of Now.
	CyclesPerSecond() float64
}

// ToMillis converts a cycle delta to milliseconds for src.
func ToMillis(src Source, cycles int64) float64 {
	return float64(cycles) * 1000.0 / src.CyclesPerSecond()
}

// ToMicros converts a cycle delta to microseconds for src.
func ToMicros(src Source, cycles int64) float64 {
	return float64(cycles) * 1e6 / src.CyclesPerSecond()
}

// ToDuration converts a cycle delta to a time.Duration for src.
func ToDuration(src Source, cycles int64) time.Duration {
	return time.Duration(float64(cycles) * 1e9 / src.CyclesPerSecond())
}

// Manual is a hand-driven clock for tests and replay. Its cycles are
// nanoseconds unless a different rate is given.
type Manual struct {
	now  atomic.Uint64
	rate float64
}

// NewManual creates a manual clock starting at start with the given rate in
// cycles per second. A non-positive rate means nanoseconds.
func NewManual(start uint64, rate float64) *Manual {
	if rate <= 0 {
		rate = 1e9
	}
	m := &Manual{rate: rate}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() uint64 { return m.now.Load() }

func (m *Manual) CyclesPerSecond() float64 { return m.rate }

// Set moves the clock to an absolute cycle count.
func (m *Manual) Set(cycles uint64) { m.now.Store(cycles) }

// Advance moves the clock forward and returns the new value.
func (m *Manual) Advance(cycles uint64) uint64 { return m.now.Add(cycles) }
