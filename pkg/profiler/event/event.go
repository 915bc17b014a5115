// Package event defines the fixed-size records producers append to frame
// buffers.
package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coral-mesh/frameprof/pkg/profiler/names"
)

// Kind is the type of a recorded event.
type Kind uint8

const (
	KindStart Kind = iota
	KindStartIdle
	KindEnd
	KindCounter
)

// String returns the short name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStartIdle:
		return "start_idle"
	case KindEnd:
		return "end"
	case KindCounter:
		return "counter"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Category is a bitmask used to filter events during reconstruction.
type Category uint32

const (
	CategoryCPP    Category = 1 << 0
	CategoryGPU    Category = 1 << 1
	CategoryScript Category = 1 << 2

	CategoryAll Category = (1 << 3) - 1
)

var categoryNames = map[Category]string{
	CategoryCPP:    "C++",
	CategoryGPU:    "GPU",
	CategoryScript: "Script",
	CategoryAll:    "All",
}

// Categories returns the selectable filter categories in cycling order.
func Categories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := range categoryNames {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns the display name of a selectable category, or the mask in
// hex for arbitrary combinations.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", uint32(c))
}

// Enabled reports whether any bit of e is set in the filter c.
func (c Category) Enabled(e Category) bool {
	return c&e != 0
}

// ParseCategory resolves a category display name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	switch strings.ToLower(s) {
	case "cpp", "cxx":
		return CategoryCPP, nil
	case "python", "script":
		return CategoryScript, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Event is a single record in a frame buffer. Events are written once by
// their producer and never mutated afterwards.
type Event struct {
	Name      names.Symbol
	Kind      Kind
	Category  Category
	Timestamp uint64
	Slot      int32
	Core      int32
	Frame     int32
	Value     int32
}

// IsStart reports whether the event opens a scope.
func (e *Event) IsStart() bool {
	return e.Kind == KindStart || e.Kind == KindStartIdle
}
