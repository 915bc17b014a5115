// Package pprofexport converts reconstructed frames into pprof profiles so
// captures can be inspected with `go tool pprof`.
package pprofexport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/frameprof/internal/safe"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

// Builder accumulates forests into a single profile. Identical stacks
// across frames merge into one sample.
type Builder struct {
	prof    *profile.Profile
	funcs   map[string]*profile.Function
	locs    map[string]*profile.Location
	samples map[string]*profile.Sample
	frames  int
}

// NewBuilder creates an empty builder. Samples carry two values: calls and
// self time in nanoseconds.
func NewBuilder() *Builder {
	return &Builder{
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "calls", Unit: "count"},
				{Type: "time", Unit: "nanoseconds"},
			},
			PeriodType:        &profile.ValueType{Type: "time", Unit: "nanoseconds"},
			Period:            1,
			DefaultSampleType: "time",
			TimeNanos:         time.Now().UnixNano(),
		},
		funcs:   make(map[string]*profile.Function),
		locs:    make(map[string]*profile.Location),
		samples: make(map[string]*profile.Sample),
	}
}

// Frames returns how many forests were added.
func (b *Builder) Frames() int { return b.frames }

// Add merges every node of f. Each partition's name becomes the outermost
// frame of its stacks.
func (b *Builder) Add(f *reconstruct.Forest, partitions []string, res names.Resolver, cyclesPerSecond float64) {
	if cyclesPerSecond <= 0 {
		cyclesPerSecond = 1e9
	}
	toNanos := func(cycles int64) int64 {
		return int64(float64(cycles) * 1e9 / cyclesPerSecond)
	}

	if f.EndOfFrame > f.Start {
		span, _ := safe.Uint64ToInt64(f.EndOfFrame - f.Start)
		b.prof.DurationNanos += toNanos(span)
	}
	b.frames++

	for p := range f.Roots {
		thread := fmt.Sprintf("partition %d", p)
		if p < len(partitions) && partitions[p] != "" {
			thread = partitions[p]
		}
		threadLoc := b.location("thread " + thread)

		var stack []*profile.Location
		f.Walk(f.Root(p), func(idx int32, depth int) bool {
			n := f.Node(idx)
			stack = append(stack[:depth], b.location(res.Lookup(n.Name)))

			locs := make([]*profile.Location, 0, depth+2)
			for i := depth; i >= 0; i-- {
				locs = append(locs, stack[i])
			}
			locs = append(locs, threadLoc)
			b.addSample(locs, n.Category.String(), n.Idle, toNanos(n.Exclusive()))
			return true
		})
	}
}

func (b *Builder) location(name string) *profile.Location {
	if loc, ok := b.locs[name]; ok {
		return loc
	}
	fn, ok := b.funcs[name]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(b.prof.Function) + 1),
			Name:       name,
			SystemName: name,
		}
		b.funcs[name] = fn
		b.prof.Function = append(b.prof.Function, fn)
	}
	loc := &profile.Location{
		ID:   uint64(len(b.prof.Location) + 1),
		Line: []profile.Line{{Function: fn}},
	}
	b.locs[name] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}

func (b *Builder) addSample(locs []*profile.Location, category string, idle bool, nanos int64) {
	var key strings.Builder
	for _, l := range locs {
		fmt.Fprintf(&key, "%d;", l.ID)
	}
	fmt.Fprintf(&key, "%s;%t", category, idle)

	if s, ok := b.samples[key.String()]; ok {
		s.Value[0]++
		s.Value[1] += nanos
		return
	}

	labels := map[string][]string{"category": {category}}
	if idle {
		labels["idle"] = []string{"true"}
	}
	s := &profile.Sample{
		Location: locs,
		Value:    []int64{1, nanos},
		Label:    labels,
	}
	b.samples[key.String()] = s
	b.prof.Sample = append(b.prof.Sample, s)
}

// Profile returns the accumulated profile after validating it.
func (b *Builder) Profile() (*profile.Profile, error) {
	if err := b.prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return b.prof, nil
}
