// Package config loads the diagbridge YAML configuration.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file, then DIAGBRIDGE_* environment variables. Validate reports every
// problem at once, joined with "; ".
//
// Durations (bridge.resubscribe_delay, bridge.retry_window,
// remote.action_timeout, icon.fetch_timeout, database.retention) use Go
// duration syntax such as "1s" or "720h". MQTT reconnect delays, the
// database busy timeout and the InfluxDB flush interval are whole seconds.
//
// Keep broker credentials and the InfluxDB token in the environment rather
// than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Bridge.ObjectRoot)
package config
