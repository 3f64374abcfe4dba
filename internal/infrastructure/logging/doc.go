// Package logging builds the bridge's log/slog logger.
//
// Every record carries service=diagbridge and the build version. Components
// get a child logger through Component so registry, bus and gateway output
// can be filtered apart:
//
//	log := logging.New(cfg.Logging, version)
//	reg := log.Component("registry")
//	reg.Info("device found", "udn", udn, "path", path)
//
// Config keys are logging.level (debug, info, warn, error), logging.format
// (json or text) and logging.output (stdout or stderr). Unknown values fall
// back to info, json and stdout.
//
// *Logger satisfies the small Logger interfaces declared by the bus,
// gateway, device and server packages.
//
// Never log broker passwords or the InfluxDB token.
package logging
