//go:build !linux

package clock

// Monotonic reads the Go runtime monotonic clock in nanoseconds.
type Monotonic struct{}

// NewMonotonic returns the system monotonic source.
func NewMonotonic() Monotonic { return Monotonic{} }

func (Monotonic) Now() uint64 { return fallbackNow() }

func (Monotonic) CyclesPerSecond() float64 { return 1e9 }
