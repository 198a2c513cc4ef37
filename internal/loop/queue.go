// Package loop provides a serial FIFO task queue used to run work after the
// current call returns, outside of any caller-held locks or callbacks.
package loop

import (
	"context"
	"sync"
)

// Task is a unit of deferred work. ctx is cancelled when the queue closes.
type Task func(ctx context.Context)

// Queue runs tasks one at a time, in scheduling order, on its own goroutine.
type Queue struct {
	mu     sync.Mutex
	tasks  []Task
	busy   bool
	closed bool
	idle   []chan struct{}

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a queue. Close releases its goroutine.
func New() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.busy = false
			q.releaseIdleLocked()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.ctx.Done():
			}
			continue
		}

		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.busy = true
		q.mu.Unlock()

		task(q.ctx)
	}
}

func (q *Queue) releaseIdleLocked() {
	for _, ch := range q.idle {
		close(ch)
	}
	q.idle = nil
}

// Schedule appends task. It never blocks and reports false once closed.
func (q *Queue) Schedule(task Task) bool {
	if task == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of tasks not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain waits until the queue is empty and no task is running. Tasks
// scheduled by running tasks are waited for as well.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy && len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close discards tasks that have not started, cancels the running task's
// context and waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done
}
