package pprofexport

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

func frameForest(t *testing.T, in *names.Interner) *reconstruct.Forest {
	t.Helper()
	ev := func(kind event.Kind, name string, ts uint64) event.Event {
		return event.Event{Name: in.Intern(name), Kind: kind, Category: event.CategoryCPP, Timestamp: ts}
	}
	evs := []event.Event{
		ev(event.KindStart, "update", 0),
		ev(event.KindStart, "physics", 10),
		ev(event.KindEnd, "physics", 40),
		ev(event.KindStart, "physics", 50),
		ev(event.KindEnd, "physics", 70),
		ev(event.KindEnd, "update", 100),
	}
	r := reconstruct.New(reconstruct.Config{})
	f := r.Build(reconstruct.Slices{evs}, reconstruct.Frame{End: 100, Filter: event.CategoryAll}, reconstruct.SlotPartition(1))
	return f.Clone()
}

func stackNames(s *profile.Sample) []string {
	var out []string
	for _, l := range s.Location {
		out = append(out, l.Line[0].Function.Name)
	}
	return out
}

func TestBuilder_MergesStacks(t *testing.T) {
	in := names.NewInterner()
	b := NewBuilder()
	b.Add(frameForest(t, in), []string{"main"}, in, 1e9)

	prof, err := b.Profile()
	require.NoError(t, err)
	require.Len(t, prof.Sample, 2)
	assert.Len(t, prof.Function, 3)

	update := prof.Sample[0]
	assert.Equal(t, []string{"update", "thread main"}, stackNames(update))
	assert.Equal(t, []int64{1, 50}, update.Value)
	assert.Equal(t, []string{"C++"}, update.Label["category"])

	physics := prof.Sample[1]
	assert.Equal(t, []string{"physics", "update", "thread main"}, stackNames(physics))
	assert.Equal(t, []int64{2, 50}, physics.Value)
}

func TestBuilder_AccumulatesFrames(t *testing.T) {
	in := names.NewInterner()
	b := NewBuilder()
	b.Add(frameForest(t, in), []string{"main"}, in, 1e9)
	b.Add(frameForest(t, in), []string{"main"}, in, 1e9)

	prof, err := b.Profile()
	require.NoError(t, err)
	assert.Equal(t, 2, b.Frames())
	require.Len(t, prof.Sample, 2)
	assert.Equal(t, []int64{4, 100}, prof.Sample[1].Value)
}

func TestSink_WritesParsableProfile(t *testing.T) {
	in := names.NewInterner()
	dir := t.TempDir()
	s := NewSink(dir, "game", zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	c := &profiler.Capture{
		Frame:           9,
		First:           true,
		Last:            true,
		CyclesPerSecond: 1e9,
		Partitions:      []string{"main"},
		Forest:          frameForest(t, in),
		Names:           in,
	}
	require.NoError(t, s.WriteCapture(context.Background(), c))

	written := s.Written()
	require.Len(t, written, 1)
	assert.Contains(t, written[0], "game_pprof_20260102_030405_0000000009.pb.gz")

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	prof, err := profile.Parse(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, prof.Sample, 2)
	assert.Equal(t, "time", prof.DefaultSampleType)
}

func TestSink_SkipsCaptureWithoutForest(t *testing.T) {
	s := NewSink(t.TempDir(), "", zerolog.Nop())
	require.NoError(t, s.WriteCapture(context.Background(), &profiler.Capture{First: true, Last: true}))
	assert.Empty(t, s.Written())
}
