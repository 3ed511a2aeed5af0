package worker

import (
	"fmt"
	"log/slog"
	"sync"
)

// Action is a deferred unit of work executed on the worker goroutine.
// A returned error is logged and swallowed; it never reaches the caller.
type Action func() error

type item struct {
	fn       Action
	barrier  chan struct{} // non-nil for Join markers
	sentinel bool          // true for the Close marker
}

// Worker owns one background goroutine draining a FIFO queue of actions.
//
// Thread-safety model:
//   - Defer, Join: safe from any goroutine
//   - Close: exactly once, from the owning goroutine
//
// The queue is unbounded so a burst of writes from the model goroutine can
// never block it.
type Worker struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	items  []item
	signal chan struct{} // coalesced availability signal (buffered, size 1)
	closed bool          // Close observed; no further enqueues accepted

	done chan struct{} // closed when the loop exits
}

// New starts a worker. The name appears in log records for soft failures.
// A nil logger falls back to slog.Default().
func New(name string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		name:   name,
		logger: logger,
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Defer queues an action for execution. Never blocks.
// Returns false (and drops the action) if the worker is closed.
func (w *Worker) Defer(fn Action) bool {
	return w.enqueue(item{fn: fn})
}

// Join blocks until every action enqueued before it has executed.
// Returns immediately on a closed worker (the close sentinel already
// drained the queue).
func (w *Worker) Join() {
	barrier := make(chan struct{})
	if !w.enqueue(item{barrier: barrier}) {
		return
	}
	<-barrier
}

// Close drains the queue and stops the worker goroutine, blocking until the
// loop has exited. Calling Close twice is a fatal programmer error.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		panic(fmt.Sprintf("worker %q: double close", w.name))
	}
	w.closed = true
	w.items = append(w.items, item{sentinel: true})
	w.mu.Unlock()

	w.wake()
	<-w.done
}

func (w *Worker) enqueue(it item) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.items = append(w.items, it)
	w.mu.Unlock()

	w.wake()
	return true
}

// wake signals availability. Non-blocking - the buffer of 1 coalesces
// multiple signals.
func (w *Worker) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Worker) dequeue() (item, bool) {
	for {
		w.mu.Lock()
		if len(w.items) > 0 {
			it := w.items[0]

			// Nil out the slot so the backing array does not retain the
			// action's captures until reallocation.
			w.items[0] = item{}
			if len(w.items) == 1 {
				w.items = w.items[:0]
			} else {
				w.items = w.items[1:]
			}
			w.mu.Unlock()
			return it, true
		}
		w.mu.Unlock()

		<-w.signal
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		it, _ := w.dequeue()
		switch {
		case it.sentinel:
			return
		case it.barrier != nil:
			close(it.barrier)
		default:
			w.perform(it.fn)
		}
	}
}

// perform runs one action, converting any error or panic into a log record.
func (w *Worker) perform(fn Action) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("queued action panicked",
				"worker", w.name,
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := fn(); err != nil {
		w.logger.Error("queued action failed",
			"worker", w.name,
			"error", err)
	}
}
