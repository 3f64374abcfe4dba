package task

import (
	"errors"
	"fmt"
)

// Kind is the coarse reason attached to every error reported to a caller.
type Kind string

// Error kinds reported to bus callers.
const (
	KindObjectNotFound   Kind = "ObjectNotFound"
	KindUnknownInterface Kind = "UnknownInterface"
	KindUnknownProperty  Kind = "UnknownProperty"
	KindOperationFailed  Kind = "OperationFailed"
	KindNotSupported     Kind = "NotSupported"
	KindBadResult        Kind = "BadResult"
	KindBadArgs          Kind = "BadArgs"
	KindCancelled        Kind = "Cancelled"
	KindDied             Kind = "Died"
)

// Error is a terminal, caller-visible error: a Kind and a human-readable
// message. No partial result is ever attached.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrCancelled)
// holds for every cancellation regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors with the fixed messages callers see.
var (
	// ErrCancelled is reported when a caller or a teardown path aborts a task.
	ErrCancelled = &Error{Kind: KindCancelled, Message: "Operation cancelled."}

	// ErrDied is reported when a task is destroyed without ever answering.
	ErrDied = &Error{Kind: KindDied, Message: "Unable to complete command."}

	// ErrObjectNotFound is reported when no device owns the requested path.
	ErrObjectNotFound = &Error{Kind: KindObjectNotFound, Message: "Cannot locate a device for the specified object"}

	// ErrQueueClosed is returned by Queue.Add after the queue finished.
	ErrQueueClosed = errors.New("task: queue closed")

	// ErrProcessorClosed is returned by Processor.Add after Shutdown.
	ErrProcessorClosed = errors.New("task: processor shut down")
)

// NewError creates a caller-visible error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a caller-visible error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error into a caller-visible *Error. Errors that do
// not carry a Kind are reported as OperationFailed with their text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindOperationFailed, Message: err.Error()}
}

// KindOf returns the Kind carried by err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
