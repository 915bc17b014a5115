package profiler

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
)

// Mode selects how processed frames are presented.
type Mode int

const (
	// ModeOff disables recording.
	ModeOff Mode = iota
	// ModeHierarchical maintains the persistent named hierarchy.
	ModeHierarchical
	// ModeSortByTime presents the flat view ordered by cost.
	ModeSortByTime
	// ModeSortByCalls presents the flat view ordered by call count.
	ModeSortByCalls
	// ModeSortByName presents the flat view ordered by name.
	ModeSortByName
	// ModeGraphs keeps the hierarchy and its graph history.
	ModeGraphs
	// ModeCores partitions events by core instead of producer.
	ModeCores
)

var modeNames = []string{
	"PROFILE_OFF",
	"HIERARCHICAL",
	"SORT_BY_TIME",
	"SORT_BY_NUMCALLS",
	"SORT_BY_NAME",
	"GRAPHS",
	"CORES",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode resolves a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Mode(i), nil
		}
	}
	return ModeOff, fmt.Errorf("unknown profiler mode %q", s)
}

// ModeNames lists every mode name in order.
func ModeNames() []string {
	return append([]string(nil), modeNames...)
}

// SortMode returns the flat ordering used in m.
func (m Mode) SortMode() aggregate.SortMode {
	switch m {
	case ModeSortByCalls:
		return aggregate.SortByCalls
	case ModeSortByName:
		return aggregate.SortByName
	default:
		return aggregate.SortByTime
	}
}

// Hierarchical reports whether m maintains the persistent hierarchy.
func (m Mode) Hierarchical() bool {
	return m == ModeHierarchical || m == ModeGraphs
}

func modeForSort(s aggregate.SortMode) Mode {
	switch s {
	case aggregate.SortByCalls:
		return ModeSortByCalls
	case aggregate.SortByName:
		return ModeSortByName
	default:
		return ModeSortByTime
	}
}
