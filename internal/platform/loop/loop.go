// Package loop provides the single-threaded scheduler the consent pipeline runs
// on. Every pipeline component assumes its callbacks execute one at a time on
// the scheduler, so no pipeline state is guarded by locks.
package loop

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs tasks serially. Post defers a task to the next tick;
// AfterFunc runs a task on the scheduler once d has elapsed.
type Scheduler interface {
	Post(task func())
	AfterFunc(d time.Duration, task func()) Timer
	Now() time.Time
}

// Timer is a cancellable AfterFunc registration.
type Timer interface {
	// Stop prevents the task from running. It returns false if the task has
	// already run or was already stopped.
	Stop() bool
}

// EventLoop is the production Scheduler: a single goroutine draining an
// unbounded FIFO of tasks. Post and AfterFunc are safe from any goroutine.
type EventLoop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	running bool
}

// New creates an EventLoop. Tasks posted before Run are kept and executed
// once Run starts.
func New() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

// Post enqueues task for the next tick.
func (l *EventLoop) Post(task func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc schedules task to be posted onto the loop after d.
func (l *EventLoop) AfterFunc(d time.Duration, task func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				task()
			}
		})
	})
	return t
}

// Now returns wall-clock time.
func (l *EventLoop) Now() time.Time {
	return time.Now()
}

// Run executes tasks until ctx is cancelled. Tasks still queued at
// cancellation are discarded.
func (l *EventLoop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			task()
			if ctx.Err() != nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from a task running on the same loop.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits until every task posted so far, and every task those tasks
// post in turn, has run. Armed timers are not waited for. Like Call it must
// not be called from the loop.
func (l *EventLoop) Drain(ctx context.Context) error {
	for {
		var idle bool
		if err := l.Call(ctx, func() { idle = l.pending() == 0 }); err != nil {
			return err
		}
		if idle {
			return nil
		}
	}
}

func (l *EventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	task := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return task, true
}

// loopTimer guards against a task firing after Stop when the underlying
// timer already expired and the task sits in the queue.
type loopTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.fired = true
	return true
}
