package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_NeverGoesBackwards(t *testing.T) {
	src := NewMonotonic()
	prev := src.Now()
	for i := 0; i < 1000; i++ {
		now := src.Now()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
	assert.Equal(t, 1e9, src.CyclesPerSecond())
}

func TestManual_AdvanceAndConvert(t *testing.T) {
	m := NewManual(100, 1000)

	assert.Equal(t, uint64(100), m.Now())
	assert.Equal(t, uint64(150), m.Advance(50))
	m.Set(2000)
	assert.Equal(t, uint64(2000), m.Now())

	assert.InDelta(t, 1.0, ToMillis(m, 1), 1e-9)
	assert.InDelta(t, 1000.0, ToMicros(m, 1), 1e-9)
	assert.Equal(t, 2*time.Second, ToDuration(m, 2000))
}

func TestNewManual_DefaultsToNanoseconds(t *testing.T) {
	m := NewManual(0, 0)
	assert.Equal(t, 1e9, m.CyclesPerSecond())
	assert.InDelta(t, 1.5, ToMillis(m, 1_500_000), 1e-9)
}
