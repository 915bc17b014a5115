package registry

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

// Partition decides which tree an event belongs to. Reconstruction and
// aggregation are written against this interface so the same pipeline runs
// per thread or per core.
type Partition interface {
	// Size is the number of partitions.
	Size() int
	// Key maps an event to a partition index, or -1 to skip it.
	Key(e *event.Event) int
	// Name is the display name of partition i.
	Name(i int) string
	// Visible reports whether partition i is reported.
	Visible(i int) bool
	// Interleaved reports whether events of one partition may come from
	// several producers and need ordering by timestamp.
	Interleaved() bool
}

// ThreadPartition keys events by producer slot.
type ThreadPartition struct {
	reg *Registry
}

// Threads returns the per-producer partition backed by reg.
func Threads(reg *Registry) *ThreadPartition {
	return &ThreadPartition{reg: reg}
}

func (p *ThreadPartition) Size() int { return p.reg.Capacity() }

func (p *ThreadPartition) Key(e *event.Event) int { return int(e.Slot) }

func (p *ThreadPartition) Name(i int) string { return p.reg.Name(int32(i)) }

func (p *ThreadPartition) Visible(i int) bool { return p.reg.Visible(int32(i)) }

func (p *ThreadPartition) Interleaved() bool { return false }

// CorePartition keys events by the core the producer reported.
type CorePartition struct {
	names []string
}

// Cores builds a core partition sized from the host's logical CPU count.
func Cores() (*CorePartition, error) {
	logical, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("failed to count logical cores: %w", err)
	}
	physical, err := cpu.Counts(false)
	if err != nil || physical <= 0 {
		physical = logical
	}
	return NewCorePartition(logical, physical), nil
}

// NewCorePartition builds a partition over logical cores, labelling the first
// physical of them as physical.
func NewCorePartition(logical, physical int) *CorePartition {
	if logical <= 0 {
		logical = 1
	}
	names := make([]string, logical)
	for i := range names {
		kind := "Logical"
		if i < physical {
			kind = "Physical"
		}
		names[i] = fmt.Sprintf("Core %d: %s", i, kind)
	}
	return &CorePartition{names: names}
}

func (p *CorePartition) Size() int { return len(p.names) }

func (p *CorePartition) Key(e *event.Event) int {
	if e.Core < 0 || int(e.Core) >= len(p.names) {
		return -1
	}
	return int(e.Core)
}

func (p *CorePartition) Name(i int) string {
	if i < 0 || i >= len(p.names) {
		return ""
	}
	return p.names[i]
}

func (p *CorePartition) Visible(i int) bool { return i >= 0 && i < len(p.names) }

func (p *CorePartition) Interleaved() bool { return true }
