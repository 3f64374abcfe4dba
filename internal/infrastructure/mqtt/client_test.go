package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "diagbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Topic Builders
// =============================================================================

func TestBusTopics(t *testing.T) {
	topics := BusTopics{Prefix: "diagbridge"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"call", topics.Call("/com/graylogic/Diagnostics/3"), "diagbridge/call/com/graylogic/Diagnostics/3"},
		{"signal", topics.Signal("/com/graylogic/Diagnostics"), "diagbridge/signal/com/graylogic/Diagnostics"},
		{"reply", topics.Reply("client-7"), "diagbridge/reply/client-7"},
		{"client", topics.Client("client-7"), "diagbridge/clients/client-7"},
		{"status", topics.Status(), "diagbridge/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBusTopics_PathFromCall(t *testing.T) {
	topics := BusTopics{Prefix: "diagbridge"}

	path, ok := topics.PathFromCall("diagbridge/call/com/graylogic/Diagnostics/0")
	if !ok || path != "/com/graylogic/Diagnostics/0" {
		t.Errorf("PathFromCall() = %q, %v; want /com/graylogic/Diagnostics/0, true", path, ok)
	}

	for _, topic := range []string{"diagbridge/reply/x", "other/call/a", "diagbridge/call"} {
		if _, ok := topics.PathFromCall(topic); ok {
			t.Errorf("PathFromCall(%q) ok = true, want false", topic)
		}
	}
}

func TestRemoteTopics(t *testing.T) {
	topics := RemoteTopics{Prefix: "upnp"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"advert", topics.Advert("uuid:1", "10.0.0.5"), "upnp/devices/uuid:1/10.0.0.5"},
		{"all adverts", topics.AllAdverts(), "upnp/devices/+/+"},
		{"action", topics.Action("uuid:1", "::1"), "upnp/action/uuid:1/::1"},
		{"reply", topics.Reply("bridge-1"), "upnp/reply/bridge-1"},
		{"event", topics.Event("uuid:1", "10.0.0.5", "TestIDs"), "upnp/events/uuid:1/10.0.0.5/TestIDs"},
		{"events", topics.Events("uuid:1", "10.0.0.5"), "upnp/events/uuid:1/10.0.0.5/#"},
		{"all events", topics.AllEvents(), "upnp/events/#"},
		{"subscribe", topics.Subscribe("uuid:1", "10.0.0.5"), "upnp/subscribe/uuid:1/10.0.0.5"},
		{"rescan", topics.Rescan(), "upnp/rescan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestRemoteTopics_SplitAdvert(t *testing.T) {
	topics := RemoteTopics{Prefix: "upnp"}

	udn, addr, ok := topics.SplitAdvert("upnp/devices/uuid:1/127.0.0.1")
	if !ok || udn != "uuid:1" || addr != "127.0.0.1" {
		t.Errorf("SplitAdvert() = %q, %q, %v", udn, addr, ok)
	}

	for _, topic := range []string{"upnp/devices/uuid:1", "upnp/devices//x", "upnp/events/a/b", "upnp/devices/a/b/c"} {
		if _, _, ok := topics.SplitAdvert(topic); ok {
			t.Errorf("SplitAdvert(%q) ok = true, want false", topic)
		}
	}
}

func TestValidSegment(t *testing.T) {
	valid := []string{"uuid:1234", "10.0.0.5", "::1", "fe80::1%eth0"}
	invalid := []string{"", "a/b", "a+", "#"}

	for _, s := range valid {
		if !ValidSegment(s) {
			t.Errorf("ValidSegment(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidSegment(s) {
			t.Errorf("ValidSegment(%q) = true, want false", s)
		}
	}
}

// =============================================================================
// Options and payloads
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "diagbridge-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.Order {
		t.Error("handlers must be delivered in arrival order")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should enforce minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "diagbridge/system/status", "diagbridge-test")

	if !opts.WillEnabled || opts.WillTopic != "diagbridge/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestConfigureLWT_NoTopic(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "", "diagbridge-test")

	if opts.WillEnabled {
		t.Error("no will expected without a status topic")
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status statusPayload
	if err := json.Unmarshal([]byte(buildStatusPayload("online", "id-1", "")), &status); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if status.Status != "online" || status.ClientID != "id-1" || status.Timestamp == "" {
		t.Errorf("payload = %+v", status)
	}
}

// =============================================================================
// Disconnected client behaviour
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Publish("a/b", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true for zero client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestArgumentValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(large) error = %v, want ErrPublishFailed", err)
	}
	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

func TestUnsubscribeForgetsWhileDisconnected(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{
		"a/b": {topic: "a/b"},
	}}

	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription("a/b") || c.SubscriptionCount() != 0 {
		t.Error("subscription should be forgotten so reconnect does not restore it")
	}
}

// =============================================================================
// Handler dispatch
// =============================================================================

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}

	dispatch(logger, func(string, []byte) error {
		panic("boom")
	}, "a/b", nil)

	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one panic record", logger.errors)
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &recordingLogger{}

	dispatch(logger, func(string, []byte) error {
		return errors.New("bad payload")
	}, "a/b", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one record", logger.warns)
	}
}

func TestDispatch_NilLogger(t *testing.T) {
	// Must not panic without a logger.
	dispatch(nil, func(string, []byte) error { panic("boom") }, "a/b", nil)
}
