// Package mainloop provides the single serialized execution context on which
// all presentation state is mutated and all fetch completions are delivered.
package mainloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned when a task is submitted to a loop that is not accepting work.
var ErrStopped = errors.New("main loop stopped")

// Loop runs submitted tasks one at a time on a single goroutine.
type Loop struct {
	// queue holds tasks waiting for Run. It is unbounded so that Post
	// never blocks, including when called from a running task.
	queue []func()

	// queueMu protects queue.
	queueMu sync.Mutex

	// wake is signalled when queue becomes non-empty.
	wake chan struct{}

	// done signals when the loop should stop.
	done chan struct{}

	// stopOnce guards closing done.
	stopOnce sync.Once

	// running indicates if Run is currently draining tasks.
	running bool

	// stopped is set once the loop has shut down; it never restarts.
	stopped bool

	// runningMu protects running and stopped.
	runningMu sync.RWMutex

	// logger for structured logging.
	logger *slog.Logger
}

// Option configures the Loop.
type Option func(*Loop)

// WithLogger sets the logger for the loop.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a new Loop with the given options.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run drains the task queue until ctx is cancelled or Stop is called.
// It should be run as a goroutine. A second concurrent Run returns immediately.
func (l *Loop) Run(ctx context.Context) {
	l.runningMu.Lock()
	if l.running || l.stopped {
		l.runningMu.Unlock()
		return
	}
	l.running = true
	l.runningMu.Unlock()

	l.logger.InfoContext(ctx, "main loop started")

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return

		case <-l.done:
			l.shutdown()
			return

		case <-l.wake:
			for task := l.next(); task != nil; task = l.next() {
				if l.isDone() || ctx.Err() != nil {
					break
				}
				l.execute(ctx, task)
			}
		}
	}
}

// next pops the oldest queued task, or returns nil when the queue is empty.
func (l *Loop) next() func() {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

// isDone reports whether Stop has been called.
func (l *Loop) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// execute runs one task, keeping the loop alive if it panics.
func (l *Loop) execute(ctx context.Context, task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "main loop task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

// Stop signals the loop to stop. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// shutdown marks the loop as stopped.
func (l *Loop) shutdown() {
	l.runningMu.Lock()
	l.running = false
	l.stopped = true
	l.runningMu.Unlock()

	l.Stop()

	l.queueMu.Lock()
	discarded := len(l.queue)
	l.queue = nil
	l.queueMu.Unlock()

	l.logger.Info("main loop stopped", slog.Int("discarded_tasks", discarded))
}

// IsRunning returns whether the loop is currently draining tasks.
func (l *Loop) IsRunning() bool {
	l.runningMu.RLock()
	defer l.runningMu.RUnlock()
	return l.running
}

// Post enqueues task for execution on the loop. It returns false when the
// loop has been stopped and the task will never run. Post never blocks and
// may be called from a task running on the loop.
func (l *Loop) Post(task func()) bool {
	if l.isDone() {
		return false
	}

	l.queueMu.Lock()
	l.queue = append(l.queue, task)
	l.queueMu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued tasks that have not started yet.
func (l *Loop) Pending() int {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return len(l.queue)
}

// Do runs task on the loop and waits for it to finish.
// It must not be called from a task running on the same loop.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
