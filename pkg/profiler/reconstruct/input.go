package reconstruct

import "github.com/coral-mesh/frameprof/pkg/profiler/event"

// Slices adapts per-slot event slices to Input.
type Slices [][]event.Event

func (s Slices) Slots() int { return len(s) }

func (s Slices) Events(slot int) []event.Event {
	if slot < 0 || slot >= len(s) {
		return nil
	}
	return s[slot]
}

// SlotPartition keys events by slot over a fixed number of slots.
type SlotPartition int

func (p SlotPartition) Size() int { return int(p) }

func (p SlotPartition) Key(e *event.Event) int { return int(e.Slot) }

func (p SlotPartition) Interleaved() bool { return false }
