package task

import (
	"context"
	"sync"
)

// Key identifies a queue: the caller (source) and the device (sink) it
// targets. Construction queues use the registry as source.
type Key struct {
	Source string
	Sink   string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithAutoClose makes the queue finish as soon as it runs out of tasks.
// Construction pipelines use this; caller queues stay open.
func WithAutoClose() QueueOption {
	return func(q *Queue) { q.autoClose = true }
}

// WithFinally sets the callback run once when the queue finishes.
// cancelled reports whether the queue was cancelled or shut down.
func WithFinally(fn func(cancelled bool)) QueueOption {
	return func(q *Queue) { q.finally = fn }
}

// WithAfter delays the first task until ch is closed. A replacement
// pipeline uses this to wait for the run it supersedes to drain.
func WithAfter(ch <-chan struct{}) QueueOption {
	return func(q *Queue) { q.after = ch }
}

// Queue runs tasks one at a time in submission order on its own goroutine.
//
// Cancelling a queue cancels the running task and answers every pending
// task with ErrCancelled. The finally callback runs after the running task
// has returned, so teardown never races an in-flight step.
type Queue struct {
	key       Key
	autoClose bool
	after     <-chan struct{}
	ctx       context.Context
	stop      context.CancelFunc

	mu        sync.Mutex
	pending   []*Task
	current   *Task
	started   bool
	running   bool
	closed    bool
	finished  bool
	cancelled bool
	finally   func(cancelled bool)
	onFinish  func(*Queue)

	done chan struct{}
}

// NewQueue creates a stopped queue. Call Start to begin processing.
func NewQueue(key Key, opts ...QueueOption) *Queue {
	ctx, stop := context.WithCancel(context.Background())
	q := &Queue{
		key:  key,
		ctx:  ctx,
		stop: stop,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Key returns the queue's key.
func (q *Queue) Key() Key {
	return q.key
}

// Done is closed after the queue finished and its finally callback ran.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// SetFinally replaces the finally callback. Passing nil turns teardown into
// a no-op, which is how a superseded pipeline hands its device over.
func (q *Queue) SetFinally(fn func(cancelled bool)) {
	q.mu.Lock()
	q.finally = fn
	q.mu.Unlock()
}

// Add appends a task. It returns ErrQueueClosed if the queue finished or
// was cancelled.
func (q *Queue) Add(t *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, t)
	q.kickLocked()
	q.mu.Unlock()
	return nil
}

// Start begins processing. Tasks added before Start wait for it.
func (q *Queue) Start() {
	q.mu.Lock()
	q.started = true
	q.kickLocked()
	empty := !q.running && len(q.pending) == 0 && q.autoClose && !q.closed
	if empty {
		q.closed = true
	}
	q.mu.Unlock()

	if empty {
		q.finish()
	}
}

// Len returns the number of tasks not yet finished, including the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

// Cancel cancels the running task, answers pending tasks with ErrCancelled
// and closes the queue.
func (q *Queue) Cancel() {
	q.abort(func(t *Task) {
		t.Cancel()
		t.Delete()
	}, func(t *Task) {
		t.Cancel()
	})
}

// Shutdown closes the queue, answering pending and running tasks with
// ErrDied.
func (q *Queue) Shutdown() {
	q.abort(func(t *Task) {
		t.Delete()
	}, func(t *Task) {
		t.Delete()
	})
}

func (q *Queue) abort(pendingFn, currentFn func(*Task)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancelled = true
	pending := q.pending
	q.pending = nil
	current := q.current
	idle := !q.running
	q.mu.Unlock()

	q.stop()

	if current != nil {
		currentFn(current)
	}
	for _, t := range pending {
		pendingFn(t)
	}

	if idle {
		q.finish()
	}
}

// kickLocked starts the worker if there is work and it is allowed to run.
func (q *Queue) kickLocked() {
	if q.started && !q.running && len(q.pending) > 0 {
		q.running = true
		go q.work()
	}
}

func (q *Queue) work() {
	if q.after != nil {
		select {
		case <-q.after:
		case <-q.ctx.Done():
		}
	}

	for {
		q.mu.Lock()
		if q.closed && q.cancelled {
			q.running = false
			q.current = nil
			q.mu.Unlock()
			q.finish()
			return
		}
		if len(q.pending) == 0 {
			q.running = false
			q.current = nil
			drained := q.autoClose && !q.closed
			if drained {
				q.closed = true
			}
			q.mu.Unlock()
			if drained {
				q.finish()
			}
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.current = t
		q.mu.Unlock()

		t.execute(q.ctx)
		t.Delete()

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}
}

// finish runs the finally callback exactly once and closes Done.
func (q *Queue) finish() {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return
	}
	q.finished = true
	fn := q.finally
	cancelled := q.cancelled
	onFinish := q.onFinish
	q.mu.Unlock()

	q.stop()
	if fn != nil {
		fn(cancelled)
	}
	close(q.done)
	if onFinish != nil {
		onFinish(q)
	}
}
