package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the diagnostics bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Bus      BusConfig      `yaml:"bus"`
	Remote   RemoteConfig   `yaml:"remote"`
	Icon     IconConfig     `yaml:"icon"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains the device registry and subscription settings.
type BridgeConfig struct {
	// ObjectRoot is the object path of the manager object. Devices are
	// published as ObjectRoot + "/" + counter.
	ObjectRoot string `yaml:"object_root"`

	// ResubscribeDelay is how long the registry waits before moving the
	// event subscription to another context after the subscribed one
	// disappears.
	// Default: 1s
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`

	// RetryWindow is how long a context waits after one automatic
	// resubscription before a second subscription loss makes it give up.
	// Default: 10s
	RetryWindow time.Duration `yaml:"retry_window"`
}

// BusConfig contains the local RPC bus settings.
type BusConfig struct {
	// TopicPrefix is the MQTT topic root used for calls, replies and signals.
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// RemoteConfig contains the settings for the remote device gateway.
type RemoteConfig struct {
	// TopicPrefix is the MQTT topic root the gateway publishes under.
	TopicPrefix string `yaml:"topic_prefix"`

	// QoS is used for adverts, events, actions and replies on the gateway
	// topics. It is independent of bus.qos.
	// Default: 1
	QoS int `yaml:"qos"`

	// ServiceType is the service type prefix a device must expose to be
	// bridged. Versions are ignored.
	ServiceType string `yaml:"service_type"`

	// ActionTimeout bounds a single remote action round trip.
	// Default: 30s
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// IconConfig contains device icon retrieval settings.
type IconConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxSize      int64         `yaml:"max_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains settings for the SQLite result journal.
type DatabaseConfig struct {
	// Enabled turns the result journal on. When false no database is opened.
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long journal rows are kept. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DIAGBRIDGE_SECTION_KEY
// For example: DIAGBRIDGE_MQTT_HOST, DIAGBRIDGE_BUS_TOPIC_PREFIX
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Environment overrides are not applied.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ObjectRoot:       "/com/graylogic/Diagnostics",
			ResubscribeDelay: time.Second,
			RetryWindow:      10 * time.Second,
		},
		Bus: BusConfig{
			TopicPrefix: "diagbridge",
			QoS:         1,
		},
		Remote: RemoteConfig{
			TopicPrefix:   "upnp",
			QoS:           1,
			ServiceType:   "urn:schemas-upnp-org:service:BasicManagement",
			ActionTimeout: 30 * time.Second,
		},
		Icon: IconConfig{
			FetchTimeout: 10 * time.Second,
			MaxSize:      1 << 20,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "diagbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/diagbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DIAGBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("DIAGBRIDGE_BRIDGE_OBJECT_ROOT"); v != "" {
		cfg.Bridge.ObjectRoot = v
	}

	// Bus and remote gateway
	if v := os.Getenv("DIAGBRIDGE_BUS_TOPIC_PREFIX"); v != "" {
		cfg.Bus.TopicPrefix = v
	}
	if v := os.Getenv("DIAGBRIDGE_REMOTE_TOPIC_PREFIX"); v != "" {
		cfg.Remote.TopicPrefix = v
	}

	// MQTT
	if v := os.Getenv("DIAGBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DIAGBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DIAGBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DIAGBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("DIAGBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("DIAGBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DIAGBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if !strings.HasPrefix(c.Bridge.ObjectRoot, "/") || strings.HasSuffix(c.Bridge.ObjectRoot, "/") {
		errs = append(errs, "bridge.object_root must start with '/' and must not end with '/'")
	}
	if c.Bridge.ResubscribeDelay <= 0 {
		errs = append(errs, "bridge.resubscribe_delay must be positive")
	}
	if c.Bridge.RetryWindow <= 0 {
		errs = append(errs, "bridge.retry_window must be positive")
	}

	// Bus and remote validation
	if c.Bus.TopicPrefix == "" {
		errs = append(errs, "bus.topic_prefix is required")
	}
	if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
		errs = append(errs, "bus.qos must be 0, 1, or 2")
	}
	if c.Remote.TopicPrefix == "" {
		errs = append(errs, "remote.topic_prefix is required")
	}
	if c.Remote.QoS < 0 || c.Remote.QoS > 2 {
		errs = append(errs, "remote.qos must be 0, 1, or 2")
	}
	if c.Remote.TopicPrefix == c.Bus.TopicPrefix {
		errs = append(errs, "remote.topic_prefix must differ from bus.topic_prefix")
	}
	if c.Remote.ServiceType == "" {
		errs = append(errs, "remote.service_type is required")
	}
	if c.Remote.ActionTimeout <= 0 {
		errs = append(errs, "remote.action_timeout must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
