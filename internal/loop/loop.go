// Package loop implements the single-threaded cooperative scheduler the
// directory runs on.
//
// Tasks are plain functions. They run one at a time, in the order they were
// posted, on whichever goroutine drives the loop. A scheduling pass runs every
// task that was queued when the pass began; tasks posted while a pass is
// running wait for the next pass.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Call once the loop has stopped accepting work.
var ErrStopped = errors.New("loop stopped")

// Scheduler accepts tasks for a later scheduling pass. Post never blocks.
type Scheduler interface {
	Post(task func())
}

// Loop is a FIFO task queue drained by a single goroutine.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool
}

// New creates an idle loop. Drive it with Run, or with RunOnce/Drain in tests.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post queues task for the next scheduling pass. Tasks posted after the loop
// stopped are dropped.
func (l *Loop) Post(task func()) {
	l.TryPost(task)
}

// TryPost is Post that reports whether the task was accepted.
func (l *Loop) TryPost(task func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// RunOnce performs one scheduling pass and returns how many tasks ran.
func (l *Loop) RunOnce() int {
	l.mu.Lock()
	batch := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, task := range batch {
		task()
	}
	return len(batch)
}

// Drain runs passes until the queue is empty and returns the total task count.
func (l *Loop) Drain() int {
	total := 0
	for {
		n := l.RunOnce()
		if n == 0 {
			return total
		}
		total += n
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run drives the loop until ctx is canceled. Queued tasks are drained before
// Run returns; tasks posted afterwards are dropped.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.RunOnce()

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.Drain()
			return
		case <-l.wake:
		}
	}
}

// Call posts fn and waits until it has run on the loop. fn may still run
// after Call returned ctx.Err(), so it must not write to the caller's variables;
// use Query to get a result back.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	_, err := Query(ctx, l, func() struct{} {
		fn()
		return struct{}{}
	})
	return err
}

// Query runs fn on the loop and returns its result. The result travels over a
// buffered channel, so a caller that gave up on ctx shares nothing with fn.
func Query[T any](ctx context.Context, l *Loop, fn func() T) (T, error) {
	var zero T
	res := make(chan T, 1)
	if !l.TryPost(func() { res <- fn() }) {
		return zero, ErrStopped
	}

	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
