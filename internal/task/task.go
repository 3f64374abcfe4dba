package task

import (
	"context"
	"errors"
	"sync"
)

// State is the lifecycle position of a Task.
type State int

// Task states. Completed, Failed, Cancelled and Deleted are terminal.
const (
	StateCreated State = iota
	StateDispatched
	StateCompleted
	StateFailed
	StateCancelled
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s >= StateCompleted
}

// Func performs the work of a task. It must honour ctx: the context is
// cancelled when the task is cancelled or deleted mid-flight.
type Func func(ctx context.Context) (any, error)

// Replier receives the outcome of a task. Exactly one of its methods is
// called, exactly once, for every task that has a Replier.
type Replier interface {
	Return(result any)
	ReturnError(err *Error)
}

// Task is one outstanding asynchronous operation bound to at most one
// caller. It reaches exactly one of Completed, Failed or Cancelled, or is
// Deleted unanswered, in which case the caller receives ErrDied.
type Task struct {
	name  string
	run   Func
	reply Replier

	mu       sync.Mutex
	state    State
	answered bool
	cancel   context.CancelFunc
}

// New creates a task. reply may be nil for internal work such as
// construction steps.
func New(name string, run Func, reply Replier) *Task {
	return &Task{
		name:  name,
		run:   run,
		reply: reply,
	}
}

// Name returns the operation name the task was created with.
func (t *Task) Name() string {
	return t.name
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Complete records a successful result. It returns false if the task had
// already reached a terminal state.
func (t *Task) Complete(result any) bool {
	return t.finish(StateCompleted, result, nil)
}

// Fail records a failure. It returns false if the task had already reached
// a terminal state.
func (t *Task) Fail(err error) bool {
	if err == nil {
		err = NewError(KindOperationFailed, "operation failed")
	}
	return t.finish(StateFailed, nil, AsError(err))
}

// Cancel aborts the task. An in-flight Func sees its context cancelled and
// the caller is answered with ErrCancelled immediately, even if the Func
// has not returned yet.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return t.finish(StateCancelled, nil, ErrCancelled)
}

// Delete releases the task. A caller that never received an answer gets
// ErrDied so it is never left waiting.
func (t *Task) Delete() {
	t.mu.Lock()
	cancel := t.cancel
	answered := t.answered
	t.state = StateDeleted
	t.answered = true
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !answered && t.reply != nil {
		t.reply.ReturnError(ErrDied)
	}
}

// execute runs the task's Func unless it was cancelled before dispatch.
func (t *Task) execute(parent context.Context) {
	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.state = StateDispatched
	t.mu.Unlock()

	defer cancel()

	var (
		result any
		err    error
	)
	if t.run != nil {
		result, err = t.run(ctx)
	}

	switch {
	case err == nil:
		t.Complete(result)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		t.Cancel()
	default:
		t.Fail(err)
	}
}

func (t *Task) finish(state State, result any, err *Error) bool {
	t.mu.Lock()
	if t.state.terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = state
	t.answered = true
	t.mu.Unlock()

	if t.reply == nil {
		return true
	}
	if err != nil {
		t.reply.ReturnError(err)
	} else {
		t.reply.Return(result)
	}
	return true
}
