// Package tracestream projects a frame's raw events into a flat,
// chronologically ordered stream for trace writers.
package tracestream

import (
	"sort"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

// Phase is the trace phase of an event.
type Phase byte

const (
	PhaseBegin   Phase = 'B'
	PhaseEnd     Phase = 'E'
	PhaseCounter Phase = 'C'
)

func (p Phase) String() string { return string(rune(p)) }

// Event is one entry of the stream.
type Event struct {
	Slot      int32
	Thread    string
	Name      string
	Category  event.Category
	Phase     Phase
	Timestamp uint64
	Value     int32
}

// ThreadNamer resolves slot display names.
type ThreadNamer func(slot int32) string

// Project returns the frame's events that pass the frame and category
// filters, ordered by timestamp. Events with equal timestamps keep slot
// order and then recording order.
func Project(in reconstruct.Input, frame reconstruct.Frame, threads ThreadNamer, res names.Resolver) []Event {
	var out []Event
	for slot := 0; slot < in.Slots(); slot++ {
		evs := in.Events(slot)
		if len(evs) == 0 {
			continue
		}
		thread := threads(int32(slot))
		for i := range evs {
			e := &evs[i]
			if e.Frame != frame.ID || !frame.Filter.Enabled(e.Category) {
				continue
			}
			out = append(out, Event{
				Slot:      e.Slot,
				Thread:    thread,
				Name:      res.Lookup(e.Name),
				Category:  e.Category,
				Phase:     phaseOf(e.Kind),
				Timestamp: e.Timestamp,
				Value:     e.Value,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func phaseOf(k event.Kind) Phase {
	switch k {
	case event.KindEnd:
		return PhaseEnd
	case event.KindCounter:
		return PhaseCounter
	default:
		return PhaseBegin
	}
}

// Threads maps each slot present in the stream to its thread name.
func Threads(events []Event) map[int32]string {
	out := make(map[int32]string)
	for _, e := range events {
		out[e.Slot] = e.Thread
	}
	return out
}
