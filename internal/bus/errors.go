package bus

import "errors"

// Error names used when the connector itself rejects a call.
const (
	ErrorUnknownObject    = "UnknownObject"
	ErrorUnknownInterface = "UnknownInterface"
	ErrorUnknownMethod    = "UnknownMethod"
	ErrorInvalidArgs      = "InvalidArgs"
)

var (
	// ErrAlreadyPublished is returned when an interface is published twice
	// on the same path.
	ErrAlreadyPublished = errors.New("bus: interface already published on path")

	// ErrInvalidPath is returned for object paths that cannot be mapped to
	// a topic.
	ErrInvalidPath = errors.New("bus: invalid object path")

	// ErrInvalidClient is returned for client names that cannot be used as
	// a topic level.
	ErrInvalidClient = errors.New("bus: invalid client name")

	// ErrNotStarted is returned before Start.
	ErrNotStarted = errors.New("bus: connector not started")
)
