package gateway

import "errors"

var (
	// ErrNotStarted is returned by Rescan before Start.
	ErrNotStarted = errors.New("gateway: control point not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("gateway: control point already started")

	errSubscriptionLost = errors.New("gateway: subscription lost")
)
