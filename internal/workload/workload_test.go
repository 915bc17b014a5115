package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/internal/testutil"
	"github.com/coral-mesh/frameprof/pkg/profiler"
)

func newProfiler(t *testing.T) *profiler.Profiler {
	t.Helper()
	opts := profiler.DefaultOptions()
	opts.MaxThreads = 8
	opts.EventsPerThread = 4096
	opts.Synchronous = true
	p, err := profiler.New(opts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func TestWorkload_RecordsHierarchy(t *testing.T) {
	p := newProfiler(t)
	w, err := New(p, Config{Threads: 2, Scopes: 3, Depth: 2}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer w.Close()

	require.Len(t, w.Producers(), 3)
	require.NoError(t, w.Run(testutil.Context(t, 10*time.Second), p, 2, 0))

	h := p.Hierarchy()
	for _, thread := range []string{"worker-0", "worker-1"} {
		assert.NotEqual(t, int32(-1), h.Find(thread, "update", "update_stage1"), thread)
		assert.NotEqual(t, int32(-1), h.Find(thread, "update", "physics_stage1"), thread)
		assert.NotEqual(t, int32(-1), h.Find(thread, "animation"), thread)
		assert.NotEqual(t, int32(-1), h.Find(thread, "wait_for_frame"), thread)
	}
	assert.NotEqual(t, int32(-1), h.Find("main", "frame"))

	stats := p.Statistics()
	assert.Equal(t, int32(1), stats.Frame)
	assert.Positive(t, stats.Events)
}

func TestWorkload_InjectsHitch(t *testing.T) {
	p := newProfiler(t)
	w, err := New(p, Config{
		Threads:       1,
		Scopes:        1,
		Depth:         1,
		HitchEvery:    2,
		HitchDuration: time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Run(context.Background(), p, 2, 0))
	assert.NotEqual(t, int32(-1), p.Hierarchy().Find("main", "frame", "hitch"))
}

func TestWorkload_ScopeNamesBeyondSystems(t *testing.T) {
	p := newProfiler(t)
	w, err := New(p, Config{Threads: 1, Scopes: len(systems) + 2, Depth: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.Len(t, w.scopes, 1)
	assert.Equal(t, "update_1", p.Names().Lookup(w.scopes[0][len(systems)]))
	assert.Equal(t, "physics_1", p.Names().Lookup(w.scopes[0][len(systems)+1]))
}

type failingTicker struct{ err error }

func (f failingTicker) Tick(context.Context) error { return f.err }

func TestWorkload_RunStopsOnTickError(t *testing.T) {
	p := newProfiler(t)
	w, err := New(p, Config{Threads: 1, Scopes: 1, Depth: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	boom := errors.New("boom")
	assert.ErrorIs(t, w.Run(context.Background(), failingTicker{err: boom}, 0, 0), boom)
}

func TestWorkload_RunReturnsOnCancel(t *testing.T) {
	p := newProfiler(t)
	w, err := New(p, Config{Threads: 1, Scopes: 1, Depth: 1, Idle: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx, p, 0, 5*time.Millisecond))
}

func TestNew_RegistrationFailure(t *testing.T) {
	opts := profiler.DefaultOptions()
	opts.MaxThreads = 2
	opts.Synchronous = true
	p, err := profiler.New(opts, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = p.Close(context.Background()) }()

	_, err = New(p, Config{Threads: 4, Scopes: 1, Depth: 1}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register worker")
}
