package playback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, onTick func(time.Time)) (*Loop, context.CancelFunc, <-chan error) {
	t.Helper()
	l := NewLoop(time.Millisecond, onTick, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, errc
}

func TestLoop_TicksAndTasks(t *testing.T) {
	var ticks atomic.Int64
	l, cancel, errc := startLoop(t, func(time.Time) { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.GreaterOrEqual(t, l.Ticks(), int64(3))
}

func TestLoop_TasksNeverOverlapTicks(t *testing.T) {
	var inside atomic.Int32
	var overlap atomic.Bool
	enter := func() {
		if inside.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(50 * time.Microsecond)
		inside.Add(-1)
	}
	l, _, _ := startLoop(t, func(time.Time) { enter() })

	for i := 0; i < 50; i++ {
		require.NoError(t, l.Do(context.Background(), enter))
	}
	assert.False(t, overlap.Load())
}

func TestLoop_PanicRecovered(t *testing.T) {
	l, _, _ := startLoop(t, nil)

	require.NoError(t, l.Do(context.Background(), func() { panic("boom") }))

	ok := false
	require.NoError(t, l.Do(context.Background(), func() { ok = true }))
	assert.True(t, ok, "loop keeps running after a panicking task")
}

func TestLoop_StoppedRejectsWork(t *testing.T) {
	l, cancel, errc := startLoop(t, nil)
	require.NoError(t, l.Do(context.Background(), func() {}))
	cancel()
	<-errc

	err := l.Do(context.Background(), func() {})
	assert.True(t, errors.Is(err, ErrLoopStopped))
	assert.False(t, l.Post(func() {}))
}

func TestLoop_RunTwice(t *testing.T) {
	l, _, _ := startLoop(t, nil)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Error(t, l.Run(context.Background()))
}

func TestLoop_DoHonorsContext(t *testing.T) {
	l := NewLoop(time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nobody runs the loop and the context is already done
	for i := 0; i < taskQueueSize; i++ {
		l.Post(func() {})
	}
	assert.ErrorIs(t, l.Do(ctx, func() {}), context.Canceled)
}
