package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunsInSubmissionOrder(t *testing.T) {
	w := NewWorker(4, zerolog.Nop())
	w.Start(context.Background())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, w.Submit(func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, uint64(50), w.Processed())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_SubmitAfterStop(t *testing.T) {
	w := NewWorker(1, zerolog.Nop())
	w.Start(context.Background())
	require.NoError(t, w.Stop(context.Background()))

	err := w.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, w.Stop(context.Background()))
}

func TestWorker_PanicDoesNotKillWorker(t *testing.T) {
	w := NewWorker(2, zerolog.Nop())
	w.Start(context.Background())

	ran := make(chan struct{})
	require.NoError(t, w.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, w.Submit(func(context.Context) { close(ran) }))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task after panic never ran")
	}
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorker_StopTimesOut(t *testing.T) {
	w := NewWorker(1, zerolog.Nop())
	w.Start(context.Background())

	release := make(chan struct{})
	require.NoError(t, w.Submit(func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, w.Stop(context.Background()), "second Stop waits for the queue")
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, uint64(1), w.Processed())
}
