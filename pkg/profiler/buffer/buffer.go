// Package buffer implements the double-buffered event store producers append
// to and the background pass reads from.
package buffer

import (
	"sync/atomic"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// region is the private append area of one producer slot.
type region struct {
	events []event.Event
	n      atomic.Int32
}

// FrameBuffer holds one frame's events, one region per slot.
type FrameBuffer struct {
	id      int
	regions []atomic.Pointer[region]
	perSlot int

	// writers counts producers currently inside append.
	writers atomic.Int32

	overflowed atomic.Bool
	highWater  atomic.Int32

	// Set by the Manager when the buffer is closed.
	Frame      int32
	EndOfFrame uint64
	Filter     event.Category
}

func newFrameBuffer(id, slots, perSlot int) *FrameBuffer {
	return &FrameBuffer{
		id:      id,
		regions: make([]atomic.Pointer[region], slots),
		perSlot: perSlot,
	}
}

// ID returns 0 or 1, identifying which of the two buffers this is.
func (b *FrameBuffer) ID() int { return b.id }

// Slots returns the number of regions.
func (b *FrameBuffer) Slots() int { return len(b.regions) }

// Events returns the events appended to slot in recording order. The slice
// aliases the buffer and is only valid until the buffer is reset.
func (b *FrameBuffer) Events(slot int) []event.Event {
	if slot < 0 || slot >= len(b.regions) {
		return nil
	}
	r := b.regions[slot].Load()
	if r == nil {
		return nil
	}
	return r.events[:r.n.Load()]
}

// Len returns the total number of events across all regions.
func (b *FrameBuffer) Len() int {
	total := 0
	for i := range b.regions {
		if r := b.regions[i].Load(); r != nil {
			total += int(r.n.Load())
		}
	}
	return total
}

// Overflowed reports whether any append was dropped since the last reset.
func (b *FrameBuffer) Overflowed() bool { return b.overflowed.Load() }

// HighWater returns the largest region fill seen since the last reset.
func (b *FrameBuffer) HighWater() int { return int(b.highWater.Load()) }

// Capacity returns the per-slot event capacity.
func (b *FrameBuffer) Capacity() int { return b.perSlot }

// Writers returns the number of producers currently appending.
func (b *FrameBuffer) Writers() int { return int(b.writers.Load()) }

func (b *FrameBuffer) provision(slot int) {
	if slot < 0 || slot >= len(b.regions) || b.regions[slot].Load() != nil {
		return
	}
	b.regions[slot].Store(&region{events: make([]event.Event, b.perSlot)})
}

// append writes e to slot's region. Only the producer owning slot calls it.
func (b *FrameBuffer) append(slot int, e *event.Event) bool {
	if slot < 0 || slot >= len(b.regions) {
		return false
	}
	r := b.regions[slot].Load()
	if r == nil {
		return false
	}
	n := r.n.Load()
	if int(n) >= len(r.events) {
		b.overflowed.Store(true)
		return false
	}
	r.events[n] = *e
	r.n.Store(n + 1)
	for {
		hw := b.highWater.Load()
		if n+1 <= hw || b.highWater.CompareAndSwap(hw, n+1) {
			break
		}
	}
	return true
}

func (b *FrameBuffer) reset() {
	for i := range b.regions {
		if r := b.regions[i].Load(); r != nil {
			r.n.Store(0)
		}
	}
	b.overflowed.Store(false)
	b.highWater.Store(0)
	b.EndOfFrame = 0
	b.Filter = 0
}
