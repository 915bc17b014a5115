package buffer

import (
	"runtime"
	"sync/atomic"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// Manager owns the two frame buffers. Producers append to the active one
// through Record; the driver flips roles with Swap.
//
// Record never blocks. It announces itself on the buffer's writer counter,
// confirms the buffer is still active and then appends. Swap publishes the
// other buffer and waits for the writer counter of the closed one to drain,
// so once Swap returns no producer touches the closed buffer again.
type Manager struct {
	buffers [2]*FrameBuffer
	active  atomic.Pointer[FrameBuffer]
	frame   atomic.Int32
}

// NewManager allocates two buffers of slots regions each. Regions are
// allocated lazily through Provision.
func NewManager(slots, perSlot int) *Manager {
	if perSlot <= 0 {
		perSlot = 1
	}
	m := &Manager{}
	for i := range m.buffers {
		m.buffers[i] = newFrameBuffer(i, slots, perSlot)
	}
	m.active.Store(m.buffers[0])
	return m
}

// Provision allocates slot's region in both buffers. It must run before the
// slot's producer records anything.
func (m *Manager) Provision(slot int32) {
	for _, b := range m.buffers {
		b.provision(int(slot))
	}
}

// Frame returns the id of the frame currently being collected.
func (m *Manager) Frame() int32 { return m.frame.Load() }

// Active returns the buffer producers are currently appending to.
func (m *Manager) Active() *FrameBuffer { return m.active.Load() }

// Record stamps e with the current frame and appends it to slot's region of
// the active buffer. It reports false when the event was dropped.
func (m *Manager) Record(slot int32, e event.Event) bool {
	e.Slot = slot
	for {
		e.Frame = m.frame.Load()
		b := m.active.Load()
		b.writers.Add(1)
		if m.active.Load() != b {
			b.writers.Add(-1)
			continue
		}
		ok := b.append(int(slot), &e)
		b.writers.Add(-1)
		return ok
	}
}

// Swap closes the active buffer and opens the other one for the next frame.
// The caller must guarantee that the previous closed buffer is no longer
// being read.
func (m *Manager) Swap(endOfFrame uint64, filter event.Category) *FrameBuffer {
	closed := m.active.Load()
	next := m.buffers[1-closed.id]

	next.reset()
	next.Frame = closed.Frame + 1

	m.active.Store(next)
	m.frame.Store(next.Frame)

	for closed.writers.Load() != 0 {
		runtime.Gosched()
	}

	closed.EndOfFrame = endOfFrame
	closed.Filter = filter
	return closed
}
