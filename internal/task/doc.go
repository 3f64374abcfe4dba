// Package task implements the asynchronous task protocol shared by every
// operation the bridge performs on behalf of a caller or a device.
//
// # Lifecycle
//
//	Created → Dispatched → {Completed | Failed | Cancelled} → Deleted
//
// A Task reaches exactly one of Completed, Failed or Cancelled, once. Its
// Replier sees exactly one answer. A task deleted before answering reports
// ErrDied ("Unable to complete command.").
//
// # Ordering
//
// A Queue executes its tasks one at a time in submission order. The
// Processor keeps one queue per (caller, device) Key, which serialises the
// operations a caller issues against one device while letting different
// devices and different callers proceed independently.
//
// # Errors
//
// Caller-visible errors are *Error values carrying a Kind (ObjectNotFound,
// UnknownInterface, UnknownProperty, OperationFailed, NotSupported,
// BadResult, BadArgs, Cancelled, Died) and a message. errors.Is matches by
// Kind.
package task
