package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceGone is returned by Invoke after the path the service was
	// reached through has been withdrawn.
	ErrServiceGone = errors.New("remote: service no longer reachable")

	// ErrActionTimeout is returned when no reply arrived in time.
	ErrActionTimeout = errors.New("remote: action timed out")

	// ErrStopped is returned for actions outstanding when the control
	// point stops.
	ErrStopped = errors.New("remote: control point stopped")
)

// ActionError is a failure reported by the remote device itself.
type ActionError struct {
	Code        int
	Description string
}

// Error returns the device's description of the failure.
func (e *ActionError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("remote error %d", e.Code)
	}
	return e.Description
}
