package influxdb

import "errors"

// Sentinel errors returned by Connect and HealthCheck.
var (
	// ErrNotConnected is returned once the client has been closed or the
	// last health check failed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The bridge then runs without result metrics.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
