package device

import (
	"errors"

	"github.com/nerrad567/diagbridge/internal/task"
)

var (
	// ErrConnectorRequired is returned by NewRegistry without a bus connector.
	ErrConnectorRequired = errors.New("device: bus connector is required")

	// ErrInvalidObjectRoot is returned for an object root that is not an
	// absolute path.
	ErrInvalidObjectRoot = errors.New("device: invalid object root")

	// ErrNoControlPoint is returned by Rescan when no control point is set.
	ErrNoControlPoint = errors.New("device: no control point")
)

// Caller-visible errors.
var (
	ErrUnknownInterface = task.NewError(task.KindUnknownInterface, "Unknown Interface")
	ErrUnknownProperty  = task.NewError(task.KindUnknownProperty, "Property not defined for object")
	ErrNoIcon           = task.NewError(task.KindNotSupported, "No icon available")
	ErrInvalidIconURL   = task.NewError(task.KindBadResult, "Invalid icon URL")
	ErrIconFetch        = task.NewError(task.KindOperationFailed, "Failed to GET device icon")

	// ErrContextGone is reported when the context an action was sent
	// through disappeared before the reply came back.
	ErrContextGone = task.NewError(task.KindOperationFailed, "Device context is no longer available")
)
