package profiler

import (
	"sync/atomic"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
)

// Producer records events for one registered slot. A Producer must be used
// by one goroutine at a time.
type Producer struct {
	p      *Profiler
	slot   int32
	name   string
	core   atomic.Int32
	closed atomic.Bool
}

// Scope is an open scope returned by Begin.
type Scope struct {
	producer *Producer
	name     names.Symbol
	category event.Category
	recorded bool
}

// Recorded reports whether the Begin event was stored.
func (s Scope) Recorded() bool { return s.recorded }

// End closes the scope on the producer that opened it.
func (s Scope) End() {
	if s.producer != nil {
		s.producer.End(s)
	}
}

// Slot returns the producer's slot id.
func (pr *Producer) Slot() int32 { return pr.slot }

// Name returns the producer's display name.
func (pr *Producer) Name() string { return pr.name }

// SetCore sets the core stamped on subsequent events. Negative values mean
// unknown.
func (pr *Producer) SetCore(core int) {
	pr.core.Store(int32(core))
}

// Begin opens a scope called name.
func (pr *Producer) Begin(name string, category event.Category) Scope {
	return pr.BeginSymbol(pr.p.names.Intern(name), category)
}

// BeginSymbol opens a scope with a pre-interned name.
func (pr *Producer) BeginSymbol(name names.Symbol, category event.Category) Scope {
	return pr.begin(event.KindStart, name, category)
}

// BeginIdle opens a scope whose time counts as waiting.
func (pr *Producer) BeginIdle(name string, category event.Category) Scope {
	return pr.BeginIdleSymbol(pr.p.names.Intern(name), category)
}

// BeginIdleSymbol opens an idle scope with a pre-interned name.
func (pr *Producer) BeginIdleSymbol(name names.Symbol, category event.Category) Scope {
	return pr.begin(event.KindStartIdle, name, category)
}

func (pr *Producer) begin(kind event.Kind, name names.Symbol, category event.Category) Scope {
	return Scope{
		producer: pr,
		name:     name,
		category: category,
		recorded: pr.record(kind, name, category, 0),
	}
}

// End records the end of s on this producer. Ending a scope opened by
// another producer records a close that will not match and is discarded
// during reconstruction.
func (pr *Producer) End(s Scope) {
	pr.record(event.KindEnd, s.name, s.category, 0)
}

// Counter records a counter sample.
func (pr *Producer) Counter(name string, category event.Category, value int32) {
	pr.CounterSymbol(pr.p.names.Intern(name), category, value)
}

// CounterSymbol records a counter sample with a pre-interned name.
func (pr *Producer) CounterSymbol(name names.Symbol, category event.Category, value int32) {
	pr.record(event.KindCounter, name, category, value)
}

// Close unregisters the producer. Later calls record nothing.
func (pr *Producer) Close() {
	if pr.closed.Swap(true) {
		return
	}
	pr.p.unregister(pr.slot)
}

func (pr *Producer) record(kind event.Kind, name names.Symbol, category event.Category, value int32) bool {
	if pr.closed.Load() || !pr.p.enabled.Load() {
		return false
	}
	return pr.p.buffers.Record(pr.slot, event.Event{
		Name:      name,
		Kind:      kind,
		Category:  category,
		Timestamp: pr.p.clock.Now(),
		Core:      pr.core.Load(),
		Value:     value,
	})
}

// LevelCounter tracks a shared level and records it as a counter on every
// change.
type LevelCounter struct {
	name     names.Symbol
	category event.Category
	level    atomic.Int32
}

// NewLevelCounter creates a level counter called name.
func (p *Profiler) NewLevelCounter(name string, category event.Category) *LevelCounter {
	return &LevelCounter{name: p.names.Intern(name), category: category}
}

// Increase raises the level and records it on pr.
func (c *LevelCounter) Increase(pr *Producer) int32 {
	v := c.level.Add(1)
	pr.CounterSymbol(c.name, c.category, v)
	return v
}

// Decrease lowers the level and records it on pr.
func (c *LevelCounter) Decrease(pr *Producer) int32 {
	v := c.level.Add(-1)
	pr.CounterSymbol(c.name, c.category, v)
	return v
}

// Level returns the current level.
func (c *LevelCounter) Level() int32 { return c.level.Load() }
