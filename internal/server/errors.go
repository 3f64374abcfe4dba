package server

import "errors"

// ErrConnectorRequired is returned by New without a bus connector.
var ErrConnectorRequired = errors.New("server: bus connector is required")
