package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
	"github.com/nerrad567/diagbridge/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DIAGBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config error", err)
	}
}

// TestRun_JournalWithoutPath verifies validation rejects an enabled journal
// with no database path before anything is connected.
func TestRun_JournalWithoutPath(t *testing.T) {
	t.Setenv("DIAGBRIDGE_CONFIG", writeConfig(t, `
database:
  enabled: true
  path: ""

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"

logging:
  level: info
  format: text
`))
	t.Setenv("DIAGBRIDGE_DATABASE_PATH", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_MQTTUnreachable verifies startup fails cleanly, after opening and
// migrating the journal, when the broker cannot be reached.
func TestRun_MQTTUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	t.Setenv("DIAGBRIDGE_CONFIG", writeConfig(t, `
database:
  enabled: true
  path: "`+dbPath+`"

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  reconnect:
    initial_delay: 1
    max_delay: 5

logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want MQTT connection error", err)
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("journal database not created: %v", statErr)
	}
}

// TestRun_SuccessfulStartupAndShutdown tests full startup and shutdown.
// Requires an MQTT broker at 127.0.0.1:1883.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	t.Setenv("DIAGBRIDGE_CONFIG", writeConfig(t, `
database:
  enabled: true
  path: "`+filepath.Join(t.TempDir(), "journal.db")+`"

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "diagbridge-startup-test"

logging:
  level: info
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Logf("run() returned error: %v (may be due to missing MQTT broker)", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DIAGBRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DIAGBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestComponentOptions_SeparateQoS verifies the bus and the gateway each
// take the QoS of their own config section.
func TestComponentOptions_SeparateQoS(t *testing.T) {
	cfg := &config.Config{
		Bus:    config.BusConfig{TopicPrefix: "diagbridge", QoS: 0},
		Remote: config.RemoteConfig{TopicPrefix: "upnp", QoS: 2, ActionTimeout: 3 * time.Second},
		MQTT:   config.MQTTConfig{QoS: 1},
	}
	log := logging.Default()

	b := busOptions(cfg, nil, log)
	if b.QoS != 0 || b.TopicPrefix != "diagbridge" {
		t.Errorf("busOptions() QoS = %d, prefix = %q; want 0, diagbridge", b.QoS, b.TopicPrefix)
	}

	g := gatewayOptions(cfg, nil, log)
	if g.QoS != 2 || g.TopicPrefix != "upnp" {
		t.Errorf("gatewayOptions() QoS = %d, prefix = %q; want 2, upnp", g.QoS, g.TopicPrefix)
	}
	if g.ActionTimeout != 3*time.Second {
		t.Errorf("gatewayOptions() ActionTimeout = %v, want 3s", g.ActionTimeout)
	}
}
