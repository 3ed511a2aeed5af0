package worker

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_FIFOOrder(t *testing.T) {
	w := New("test", slog.Default())
	defer w.Close()

	var mu sync.Mutex
	var got []int

	for i := 0; i < 100; i++ {
		i := i
		ok := w.Defer(func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
		require.True(t, ok)
	}

	w.Join()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v, "actions must execute in enqueue order")
	}
}

func TestWorker_JoinDrainsPriorActions(t *testing.T) {
	w := New("test", slog.Default())
	defer w.Close()

	done := false
	w.Defer(func() error {
		done = true
		return nil
	})

	w.Join()
	assert.True(t, done, "join must not return before queued actions run")
}

func TestWorker_CloseDrainsQueue(t *testing.T) {
	w := New("test", slog.Default())

	count := 0
	for i := 0; i < 10; i++ {
		w.Defer(func() error {
			count++
			return nil
		})
	}

	w.Close()
	assert.Equal(t, 10, count, "close must drain pending actions before stopping")
}

func TestWorker_DoubleClosePanics(t *testing.T) {
	w := New("test", slog.Default())
	w.Close()

	assert.Panics(t, func() { w.Close() })
}

func TestWorker_DeferAfterClose(t *testing.T) {
	w := New("test", slog.Default())
	w.Close()

	ok := w.Defer(func() error { return nil })
	assert.False(t, ok, "defer after close must be refused")
}

func TestWorker_JoinAfterClose(t *testing.T) {
	w := New("test", slog.Default())
	w.Close()

	// Must return immediately instead of blocking forever.
	w.Join()
}

func TestWorker_ActionErrorDoesNotStopLoop(t *testing.T) {
	w := New("test", slog.Default())
	defer w.Close()

	ran := false
	w.Defer(func() error { return errors.New("disk full") })
	w.Defer(func() error {
		ran = true
		return nil
	})

	w.Join()
	assert.True(t, ran, "an erroring action must not abort the loop")
}

func TestWorker_ActionPanicDoesNotStopLoop(t *testing.T) {
	w := New("test", slog.Default())
	defer w.Close()

	ran := false
	w.Defer(func() error { panic("boom") })
	w.Defer(func() error {
		ran = true
		return nil
	})

	w.Join()
	assert.True(t, ran, "a panicking action must not abort the loop")
}

func TestWorker_ConcurrentProducers(t *testing.T) {
	w := New("test", slog.Default())
	defer w.Close()

	const producers = 8
	const perProducer = 200

	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				w.Defer(func() error {
					mu.Lock()
					total++
					mu.Unlock()
					return nil
				})
			}
		}()
	}

	wg.Wait()
	w.Join()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, producers*perProducer, total)
}
