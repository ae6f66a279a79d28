package mainloop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lllypuk/userfeed/internal/infrastructure/mainloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, opts ...mainloop.Option) *mainloop.Loop {
	t.Helper()

	loop := mainloop.New(opts...)
	go loop.Run(t.Context())
	t.Cleanup(loop.Stop)

	require.Eventually(t, loop.IsRunning, time.Second, time.Millisecond)
	return loop
}

func TestLoop_Run(t *testing.T) {
	t.Run("starts and stops with context cancellation", func(t *testing.T) {
		loop := mainloop.New()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(done)
		}()

		require.Eventually(t, loop.IsRunning, time.Second, time.Millisecond)

		cancel()

		select {
		case <-done:
			assert.False(t, loop.IsRunning())
		case <-time.After(time.Second):
			t.Fatal("loop did not stop in time")
		}
	})

	t.Run("stops with Stop method", func(t *testing.T) {
		loop := mainloop.New()

		done := make(chan struct{})
		go func() {
			loop.Run(context.Background())
			close(done)
		}()

		require.Eventually(t, loop.IsRunning, time.Second, time.Millisecond)

		loop.Stop()

		select {
		case <-done:
			assert.False(t, loop.IsRunning())
		case <-time.After(time.Second):
			t.Fatal("loop did not stop in time")
		}
	})

	t.Run("does not start twice", func(t *testing.T) {
		loop := startLoop(t)

		done2 := make(chan struct{})
		go func() {
			loop.Run(t.Context())
			close(done2)
		}()

		select {
		case <-done2:
		case <-time.After(100 * time.Millisecond):
			t.Fatal("second Run call did not return immediately")
		}
	})
}

func TestLoop_Post(t *testing.T) {
	t.Run("runs tasks in submission order on one goroutine", func(t *testing.T) {
		loop := startLoop(t)

		var got []int
		for i := range 100 {
			require.True(t, loop.Post(func() { got = append(got, i) }))
		}
		require.NoError(t, loop.Do(t.Context(), func() {}))

		require.Len(t, got, 100)
		for i, v := range got {
			assert.Equal(t, i, v)
		}
	})

	t.Run("serializes posts from many goroutines", func(t *testing.T) {
		loop := startLoop(t)

		counter := 0
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				loop.Post(func() { counter++ })
			}()
		}
		wg.Wait()

		var final int
		require.NoError(t, loop.Do(t.Context(), func() { final = counter }))
		assert.Equal(t, 50, final)
	})

	t.Run("tasks queued before Run execute once it starts", func(t *testing.T) {
		loop := mainloop.New()
		ran := make(chan struct{})
		require.True(t, loop.Post(func() { close(ran) }))

		go loop.Run(t.Context())
		t.Cleanup(loop.Stop)

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("queued task did not run")
		}
	})

	t.Run("rejects tasks after stop", func(t *testing.T) {
		loop := startLoop(t)
		loop.Stop()

		require.Eventually(t, func() bool { return !loop.IsRunning() }, time.Second, time.Millisecond)
		assert.False(t, loop.Post(func() {}))
	})

	t.Run("posting from a task never blocks the loop", func(t *testing.T) {
		loop := startLoop(t)

		gate := make(chan struct{})
		require.True(t, loop.Post(func() { <-gate }))

		var wg sync.WaitGroup
		for range 1000 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				loop.Post(func() {})
			}()
		}
		wg.Wait()

		nested := make(chan struct{})
		require.True(t, loop.Post(func() {
			loop.Post(func() { close(nested) })
		}))
		close(gate)

		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		require.NoError(t, loop.Do(ctx, func() {}))

		select {
		case <-nested:
		case <-ctx.Done():
			t.Fatal("task posted from a task did not run")
		}
		assert.Zero(t, loop.Pending())
	})

	t.Run("survives a panicking task", func(t *testing.T) {
		loop := startLoop(t)

		loop.Post(func() { panic("boom") })

		ran := false
		require.NoError(t, loop.Do(t.Context(), func() { ran = true }))
		assert.True(t, ran)
	})
}

func TestLoop_Do(t *testing.T) {
	t.Run("returns ErrStopped on a stopped loop", func(t *testing.T) {
		loop := mainloop.New()
		loop.Stop()

		err := loop.Do(t.Context(), func() {})
		require.ErrorIs(t, err, mainloop.ErrStopped)
	})

	t.Run("honours context deadline", func(t *testing.T) {
		loop := mainloop.New()

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		err := loop.Do(ctx, func() {})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
