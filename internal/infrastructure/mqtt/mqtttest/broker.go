// Package mqtttest runs an in-process MQTT broker for tests that need a
// real paho connection.
package mqtttest

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
)

// StartBroker starts a broker on a free loopback port and returns a client
// configuration pointing at it. The broker is closed when the test ends.
//
// Parameters:
//   - t: the test owning the broker
//   - clientID: client ID placed in the returned configuration
//
// Returns:
//   - config.MQTTConfig: QoS 1 configuration for mqtt.Connect
func StartBroker(t testing.TB, clientID string) config.MQTTConfig {
	t.Helper()

	addr := freeAddr(t)
	server := mochi.New(&mochi.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	go func() {
		_ = server.Serve() //nolint:errcheck // listener errors surface as connect failures
	}()
	t.Cleanup(func() { _ = server.Close() })

	waitListening(t, addr)

	host, portStr, _ := net.SplitHostPort(addr) //nolint:errcheck // produced by net.Listen
	port, _ := strconv.Atoi(portStr)            //nolint:errcheck // produced by net.Listen
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// WithClientID returns a copy of cfg for a second connection.
func WithClientID(cfg config.MQTTConfig, clientID string) config.MQTTConfig {
	cfg.Broker.ClientID = clientID
	return cfg
}

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func waitListening(t testing.TB, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("broker did not start listening on %s", addr)
}
