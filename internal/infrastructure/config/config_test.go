package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  object_root: "/org/example/Diag"
  resubscribe_delay: 250ms
  retry_window: 5s
bus:
  topic_prefix: "diag"
  qos: 2
remote:
  topic_prefix: "gw"
  qos: 0
  action_timeout: 3s
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
database:
  enabled: true
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ObjectRoot != "/org/example/Diag" {
		t.Errorf("Bridge.ObjectRoot = %q, want %q", cfg.Bridge.ObjectRoot, "/org/example/Diag")
	}
	if cfg.Bridge.ResubscribeDelay != 250*time.Millisecond {
		t.Errorf("Bridge.ResubscribeDelay = %v, want 250ms", cfg.Bridge.ResubscribeDelay)
	}
	if cfg.Bridge.RetryWindow != 5*time.Second {
		t.Errorf("Bridge.RetryWindow = %v, want 5s", cfg.Bridge.RetryWindow)
	}
	if cfg.Remote.ActionTimeout != 3*time.Second {
		t.Errorf("Remote.ActionTimeout = %v, want 3s", cfg.Remote.ActionTimeout)
	}
	if cfg.Bus.QoS != 2 || cfg.Remote.QoS != 0 || cfg.MQTT.QoS != 1 {
		t.Errorf("QoS bus/remote/mqtt = %d/%d/%d, want 2/0/1", cfg.Bus.QoS, cfg.Remote.QoS, cfg.MQTT.QoS)
	}
	if cfg.Remote.ServiceType == "" {
		t.Error("Remote.ServiceType should keep its default")
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if !cfg.Database.Enabled || cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database = %+v, want enabled at /tmp/test.db", cfg.Database)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
bridge:
  object_root: "relative/path"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for relative object_root, got nil")
	}
	if !strings.Contains(err.Error(), "bridge.object_root") {
		t.Errorf("error = %v, want mention of bridge.object_root", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "object root trailing slash",
			mutate:  func(c *Config) { c.Bridge.ObjectRoot = "/com/graylogic/" },
			wantErr: true,
		},
		{
			name:    "zero resubscribe delay",
			mutate:  func(c *Config) { c.Bridge.ResubscribeDelay = 0 },
			wantErr: true,
		},
		{
			name:    "negative retry window",
			mutate:  func(c *Config) { c.Bridge.RetryWindow = -time.Second },
			wantErr: true,
		},
		{
			name:    "missing bus prefix",
			mutate:  func(c *Config) { c.Bus.TopicPrefix = "" },
			wantErr: true,
		},
		{
			name:    "shared prefixes",
			mutate:  func(c *Config) { c.Remote.TopicPrefix = c.Bus.TopicPrefix },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid bus QoS",
			mutate:  func(c *Config) { c.Bus.QoS = -1 },
			wantErr: true,
		},
		{
			name:    "invalid remote QoS",
			mutate:  func(c *Config) { c.Remote.QoS = 3 },
			wantErr: true,
		},
		{
			name: "journal enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "journal disabled without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bus.TopicPrefix = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "bus.topic_prefix") || !strings.Contains(err.Error(), "mqtt.qos") {
		t.Errorf("Validate() = %v, want both errors reported", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DIAGBRIDGE_BRIDGE_OBJECT_ROOT", "/custom/Root")
	t.Setenv("DIAGBRIDGE_BUS_TOPIC_PREFIX", "custom-bus")
	t.Setenv("DIAGBRIDGE_REMOTE_TOPIC_PREFIX", "custom-gw")
	t.Setenv("DIAGBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DIAGBRIDGE_MQTT_PORT", "8883")
	t.Setenv("DIAGBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("DIAGBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("DIAGBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DIAGBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DIAGBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Bridge.ObjectRoot", cfg.Bridge.ObjectRoot, "/custom/Root"},
		{"Bus.TopicPrefix", cfg.Bus.TopicPrefix, "custom-bus"},
		{"Remote.TopicPrefix", cfg.Remote.TopicPrefix, "custom-gw"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("DIAGBRIDGE_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Bridge.ResubscribeDelay != time.Second {
		t.Errorf("default ResubscribeDelay = %v, want 1s", cfg.Bridge.ResubscribeDelay)
	}
	if cfg.Bridge.RetryWindow != 10*time.Second {
		t.Errorf("default RetryWindow = %v, want 10s", cfg.Bridge.RetryWindow)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Database.Enabled {
		t.Error("default journal should be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}
