package hierarchy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/names"
	"github.com/coral-mesh/frameprof/pkg/profiler/reconstruct"
)

func identity(c int64) float64 { return float64(c) }

func pathForest(in *names.Interner, frame int32, path ...string) *reconstruct.Forest {
	var evs []event.Event
	for i, name := range path {
		evs = append(evs, event.Event{Name: in.Intern(name), Kind: event.KindStart, Category: event.CategoryCPP, Timestamp: uint64(i), Frame: frame})
	}
	for i := len(path) - 1; i >= 0; i-- {
		evs = append(evs, event.Event{Name: in.Intern(path[i]), Kind: event.KindEnd, Category: event.CategoryCPP, Timestamp: uint64(100 - i), Frame: frame})
	}
	return reconstruct.New(reconstruct.Config{}).Build(
		reconstruct.Slices{evs},
		reconstruct.Frame{ID: frame, End: 200, Filter: event.CategoryAll},
		reconstruct.SlotPartition(1),
	)
}

func TestPool_StructuralSharingAcrossFrames(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{}, zerolog.Nop())

	totalCalls := 0
	for frame := int32(0); frame < 5; frame++ {
		pool.ZeroFrame(frame)
		pool.Accumulate(pathForest(in, frame, "root", "update", "physics"), 0, "main", false, identity, in)

		physics := pool.Find("main", "root", "update", "physics")
		require.NotEqual(t, None, physics)
		n, ok := pool.Get(physics)
		require.True(t, ok)
		totalCalls += n.Calls
	}

	assert.Equal(t, 5, pool.Len(), "root, thread and three scopes")
	assert.Equal(t, 5, totalCalls)

	all := pool.All()
	require.Len(t, all, 5)
	assert.Equal(t, []string{RootName, "main", "root", "update", "physics"},
		[]string{all[0].Name, all[1].Name, all[2].Name, all[3].Name, all[4].Name})
	assert.Equal(t, 4, all[4].Depth)
}

func TestPool_ZeroFrameClearsPerFrameValues(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{}, zerolog.Nop())

	pool.ZeroFrame(0)
	pool.Accumulate(pathForest(in, 0, "a", "b"), 0, "main", false, identity, in)
	pool.Accumulate(pathForest(in, 0, "a", "b"), 0, "main", false, identity, in)

	b := pool.Find("main", "a", "b")
	n, _ := pool.Get(b)
	assert.Equal(t, 2, n.Calls)
	assert.True(t, n.State&StateHighlighted != 0)

	pool.ZeroFrame(1)
	n, _ = pool.Get(b)
	assert.Equal(t, 0, n.Calls)
	assert.Zero(t, n.Time)
	assert.False(t, n.State&StateHighlighted != 0)
}

func TestPool_ExclusiveCost(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{}, zerolog.Nop())
	pool.ZeroFrame(0)

	// outer 0..100, inner 1..99
	pool.Accumulate(pathForest(in, 0, "outer", "inner"), 0, "main", true, identity, in)

	outer, _ := pool.Get(pool.Find("main", "outer"))
	inner, _ := pool.Get(pool.Find("main", "outer", "inner"))
	assert.Equal(t, 2.0, outer.Time)
	assert.Equal(t, 98.0, inner.Time)

	thread, _ := pool.Get(pool.Find("main"))
	assert.Equal(t, 100.0, thread.Time)
	assert.Equal(t, 1, thread.Calls)
}

func TestPool_ExhaustionIsSoft(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{PoolSize: 4}, zerolog.Nop())
	pool.ZeroFrame(0)

	pool.Accumulate(pathForest(in, 0, "a", "b", "c", "d"), 0, "main", false, identity, in)

	assert.Equal(t, 4, pool.Len())
	assert.True(t, pool.Exhausted())
	assert.NotEqual(t, None, pool.Find("main", "a", "b"))
	assert.Equal(t, None, pool.Find("main", "a", "b", "c"))

	pool.ZeroFrame(1)
	pool.Accumulate(pathForest(in, 1, "a", "b", "c", "d"), 0, "main", false, identity, in)
	b, _ := pool.Get(pool.Find("main", "a", "b"))
	assert.Equal(t, 1, b.Calls, "existing nodes keep reporting")
}

func TestPool_PruneReturnsNodesToFreeList(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{PoolSize: 8}, zerolog.Nop())
	pool.ZeroFrame(0)
	pool.Accumulate(pathForest(in, 0, "a", "b"), 0, "main", false, identity, in)
	pool.Accumulate(pathForest(in, 0, "x"), 0, "worker", false, identity, in)
	require.Equal(t, 6, pool.Len())

	pool.PruneChild("main")

	assert.Equal(t, 3, pool.Len())
	assert.Equal(t, None, pool.Find("main"))
	assert.NotEqual(t, None, pool.Find("worker", "x"))

	pool.Reset()
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, None, pool.Find("worker"))
}

func TestPool_Navigation(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{}, zerolog.Nop())
	pool.ZeroFrame(0)
	pool.Accumulate(pathForest(in, 0, "a", "b"), 0, "main", false, identity, in)

	rows := pool.Rows()
	require.Len(t, rows, 2, "only the root and thread rows are visible at first")
	assert.True(t, rows[0].Selected)

	main := pool.Next()
	assert.Equal(t, pool.Find("main"), main)
	assert.Equal(t, main, pool.Next(), "selection stops at the last row")

	pool.ToggleChildren()
	rows = pool.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[2].Name)
	assert.True(t, rows[1].Expanded)

	a := pool.Next()
	pool.ToggleChildren()
	assert.Len(t, pool.Rows(), 4)

	assert.Equal(t, main, pool.Prev())
	pool.ToggleChildren()
	assert.Len(t, pool.Rows(), 2, "collapsing hides the whole subtree")
	assert.Equal(t, int32(0), pool.Prev())
	assert.Equal(t, int32(0), pool.Prev())
	assert.True(t, pool.Select(a))
}

func TestPool_GraphHistory(t *testing.T) {
	in := names.NewInterner()
	pool := New(Config{HistorySlices: 4}, zerolog.Nop())
	pool.ZeroFrame(0)
	pool.Accumulate(pathForest(in, 0, "a"), 0, "main", false, identity, in)

	main := pool.Find("main")
	require.True(t, pool.Select(main))
	pool.ToggleGraph(true)

	for frame := int32(1); frame <= 5; frame++ {
		pool.ZeroFrame(frame)
		pool.Accumulate(pathForest(in, frame, "a"), 0, "main", false, identity, in)
	}

	a := pool.Find("main", "a")
	hist := pool.History(a)
	require.Len(t, hist, 4)
	assert.Equal(t, []float64{100, 100, 100, 100}, hist)

	rows := pool.All()
	assert.True(t, rows[1].HasHistory)

	pool.ToggleGraph(true)
	assert.Nil(t, pool.History(a))
}
