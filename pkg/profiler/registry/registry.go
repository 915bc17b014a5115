// Package registry assigns producers stable partition slots.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoSlot is returned by Register once every slot is in use.
var ErrNoSlot = errors.New("no slot available")

// DeletedName replaces the name of a retired slot until it is reused.
const DeletedName = "Deleted"

// NoRoot marks a slot without a reconstructed tree in the last frame.
const NoRoot int32 = -1

// AnyPass defers a removal only past a pass already in flight.
const AnyPass int32 = math.MinInt32

// Slot describes one registered producer.
type Slot struct {
	ID      int32
	Name    string
	Root    int32
	Visible bool
	Live    bool
}

type slotState struct {
	Slot
	owner   any
	pending bool
	after   int32
}

// Registry hands out slots up to a fixed maximum. Slot ids stay stable while
// a buffer or a processing pass may still reference them: removals are
// deferred until the frame holding the slot's last events is processed.
type Registry struct {
	logger zerolog.Logger

	mu      sync.Mutex
	slots   []slotState
	inPass  bool
	pending []int32

	onProvision func(slot int32)
}

// New creates a registry with max slots.
func New(max int, logger zerolog.Logger) *Registry {
	if max <= 0 {
		max = 1
	}
	r := &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		slots:  make([]slotState, max),
	}
	for i := range r.slots {
		r.slots[i].ID = int32(i)
		r.slots[i].Root = NoRoot
	}
	return r
}

// OnProvision installs a hook that runs, under the registry lock, whenever a
// slot is handed to a new producer.
func (r *Registry) OnProvision(fn func(slot int32)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProvision = fn
}

// Capacity returns the maximum number of concurrent slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Register assigns the first free slot to name. A non-nil owner that
// already holds a live slot gets that slot back and any pending removal of
// it is cancelled.
func (r *Registry) Register(name string, owner any) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner != nil {
		for i := range r.slots {
			s := &r.slots[i]
			if s.Live && s.owner == owner {
				if s.pending {
					s.pending = false
					r.pending = removeID(r.pending, s.ID)
				}
				r.logger.Debug().Int32("slot", s.ID).Str("name", s.Name).Msg("Producer already registered")
				return s.ID, nil
			}
		}
	}

	for i := range r.slots {
		s := &r.slots[i]
		if s.Live || s.pending {
			continue
		}
		s.Name = name
		s.Root = NoRoot
		s.Visible = true
		s.Live = true
		s.owner = owner
		if r.onProvision != nil {
			r.onProvision(s.ID)
		}
		r.logger.Debug().Int32("slot", s.ID).Str("name", name).Msg("Registered producer")
		return s.ID, nil
	}

	r.logger.Warn().Str("name", name).Int("max", len(r.slots)).Msg("Producer could not be added")
	return NoRoot, fmt.Errorf("failed to register %q: %w", name, ErrNoSlot)
}

// Unregister retires a slot. A slot whose events may still sit in a buffer
// is not retired at once: it keeps its id, name and visibility until
// EndPass or Retire reports frame after as processed. after is the frame
// being collected when the producer went away, or AnyPass when recording is
// off and only an in-flight pass can still reference the slot. When the
// slot is retired right away its state before retirement is returned with
// true.
func (r *Registry) Unregister(slot, after int32) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookup(slot)
	if s == nil || !s.Live {
		return Slot{}, false
	}
	if after == AnyPass && !r.inPass {
		before := s.Slot
		r.retire(s)
		return before, true
	}
	if !s.pending {
		s.pending = true
		r.pending = append(r.pending, slot)
	}
	s.after = after
	return Slot{}, false
}

// BeginPass marks a processing pass as in flight.
func (r *Registry) BeginPass() {
	r.mu.Lock()
	r.inPass = true
	r.mu.Unlock()
}

// EndPass clears the in-flight mark once frame has been processed and
// retires the deferred slots that frame covered. It returns the retired
// slots as they were before retirement.
func (r *Registry) EndPass(frame int32) []Slot {
	r.mu.Lock()
	r.inPass = false
	r.mu.Unlock()
	return r.Retire(frame)
}

// AbortPass clears the in-flight mark of a pass that never ran.
func (r *Registry) AbortPass() {
	r.mu.Lock()
	r.inPass = false
	r.mu.Unlock()
}

// Retire retires every deferred slot whose last frame is at or before
// frame. Frames that need no pass (no events) report through here.
func (r *Registry) Retire(frame int32) []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	var retired []Slot
	keep := r.pending[:0]
	for _, id := range r.pending {
		s := r.lookup(id)
		if s == nil {
			continue
		}
		if s.after != AnyPass && s.after > frame {
			keep = append(keep, id)
			continue
		}
		retired = append(retired, s.Slot)
		r.retire(s)
	}
	r.pending = keep
	return retired
}

// retire must be called with mu held.
func (r *Registry) retire(s *slotState) {
	r.logger.Debug().Int32("slot", s.ID).Str("name", s.Name).Msg("Removed producer")
	s.Name = DeletedName
	s.Visible = false
	s.Live = false
	s.Root = NoRoot
	s.owner = nil
	s.pending = false
}

func (r *Registry) lookup(slot int32) *slotState {
	if slot < 0 || int(slot) >= len(r.slots) {
		return nil
	}
	return &r.slots[slot]
}

// Name returns the display name of a slot.
func (r *Registry) Name(slot int32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.lookup(slot); s != nil {
		return s.Name
	}
	return ""
}

// SetVisible shows or hides a slot in reports.
func (r *Registry) SetVisible(slot int32, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.lookup(slot); s != nil && s.Live {
		s.Visible = visible
	}
}

// Visible reports whether a live slot is shown in reports.
func (r *Registry) Visible(slot int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lookup(slot)
	return s != nil && s.Live && s.Visible
}

// Live reports whether the slot is currently assigned.
func (r *Registry) Live(slot int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lookup(slot)
	return s != nil && s.Live
}

// SetRoot records the reconstructed tree root of a slot for the last frame.
func (r *Registry) SetRoot(slot, root int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.lookup(slot); s != nil {
		s.Root = root
	}
}

// Slots returns a copy of every slot that has ever been assigned.
func (r *Registry) Slots() []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Slot, 0, len(r.slots))
	for _, s := range r.slots {
		if s.Name == "" {
			continue
		}
		out = append(out, s.Slot)
	}
	return out
}

func removeID(ids []int32, id int32) []int32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
