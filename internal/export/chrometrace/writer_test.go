package chrometrace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

func capture(frame int32, first, last bool) *profiler.Capture {
	return &profiler.Capture{
		Frame:           frame,
		First:           first,
		Last:            last,
		Start:           1000,
		CyclesPerSecond: 1e9,
		Threads:         map[int32]string{1: "render", 0: "main"},
		Events: []tracestream.Event{
			{Slot: 0, Thread: "main", Name: "update", Category: event.CategoryCPP, Phase: tracestream.PhaseBegin, Timestamp: 1000},
			{Slot: 1, Thread: "render", Name: "draw", Category: event.CategoryGPU, Phase: tracestream.PhaseBegin, Timestamp: 3000},
			{Slot: 0, Thread: "main", Name: "entities", Category: event.CategoryScript, Phase: tracestream.PhaseCounter, Timestamp: 4000, Value: 42},
			{Slot: 1, Thread: "render", Name: "draw", Category: event.CategoryGPU, Phase: tracestream.PhaseEnd, Timestamp: 5000},
			{Slot: 0, Thread: "main", Name: "update", Category: event.CategoryCPP, Phase: tracestream.PhaseEnd, Timestamp: 11000},
		},
	}
}

func newTestWriter(t *testing.T, retention int) *Writer {
	w := New(Config{Dir: t.TempDir(), Prefix: "game", Retention: retention, Session: "s-1"}, zerolog.Nop())
	w.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return w
}

func readFile(t *testing.T, path string) File {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f File
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWriter_SingleFrame(t *testing.T) {
	w := newTestWriter(t, 0)
	require.NoError(t, w.WriteCapture(context.Background(), capture(7, true, true)))

	written := w.Written()
	require.Len(t, written, 1)
	assert.Equal(t, "game_profile_20260304_050607_0000000007.json", filepath.Base(written[0]))

	f := readFile(t, written[0])
	assert.Equal(t, "ms", f.DisplayTimeUnit)
	assert.Equal(t, "s-1", f.OtherData["session"])
	require.Len(t, f.TraceEvents, 7)

	// Thread metadata first, ordered by slot.
	assert.Equal(t, "M", f.TraceEvents[0].Ph)
	assert.Equal(t, int32(0), f.TraceEvents[0].Tid)
	assert.Equal(t, "main", f.TraceEvents[0].Args["name"])
	assert.Equal(t, "render", f.TraceEvents[1].Args["name"])

	begin := f.TraceEvents[2]
	assert.Equal(t, "update", begin.Name)
	assert.Equal(t, "C++", begin.Cat)
	assert.Equal(t, "B", begin.Ph)
	assert.InDelta(t, 0.0, begin.Ts, 1e-9)

	counter := f.TraceEvents[4]
	assert.Equal(t, "C", counter.Ph)
	assert.InDelta(t, 3.0, counter.Ts, 1e-9)
	assert.EqualValues(t, 42, counter.Args["value"])

	end := f.TraceEvents[6]
	assert.Equal(t, "E", end.Ph)
	assert.InDelta(t, 10.0, end.Ts, 1e-9)
}

func TestWriter_MultiFrameDump(t *testing.T) {
	w := newTestWriter(t, 0)
	ctx := context.Background()

	require.NoError(t, w.WriteCapture(ctx, capture(1, true, false)))
	assert.Empty(t, w.Written(), "nothing is written before the last frame")
	require.NoError(t, w.WriteCapture(ctx, capture(2, false, false)))
	require.NoError(t, w.WriteCapture(ctx, capture(3, false, true)))

	written := w.Written()
	require.Len(t, written, 1)
	f := readFile(t, written[0])
	assert.Len(t, f.TraceEvents, 2+3*5, "metadata once plus every frame's events")
	assert.Equal(t, []any{1.0, 2.0, 3.0}, f.OtherData["frames"])
}

func TestWriter_Retention(t *testing.T) {
	w := newTestWriter(t, 2)
	ctx := context.Background()
	for frame := int32(1); frame <= 4; frame++ {
		require.NoError(t, w.WriteCapture(ctx, capture(frame, true, true)))
	}

	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, "game_profile_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Contains(t, matches[1], "0000000004")
}

func TestWriter_CancelledContext(t *testing.T) {
	w := newTestWriter(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.WriteCapture(ctx, capture(1, true, true)), context.Canceled)
}

func TestConvert_StragglerClampsToZero(t *testing.T) {
	c := capture(1, true, true)
	c.Events = []tracestream.Event{{Phase: tracestream.PhaseBegin, Timestamp: 10}}
	out := Convert(c, 1)
	require.Len(t, out, 1)
	assert.Zero(t, out[0].Ts)
}
