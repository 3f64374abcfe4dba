package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt/mqtttest"
)

// These tests run the connector over a real paho connection to an
// in-process broker, where handler scheduling is paho's and not a mock's.

func connectBroker(t *testing.T, cfg config.MQTTConfig, clientID string) *mqtt.Client {
	t.Helper()
	client, err := mqtt.Connect(mqtttest.WithClientID(cfg, clientID), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMQTTConnector_BrokerPreservesCallOrder(t *testing.T) {
	cfg := mqtttest.StartBroker(t, "diagbridge")
	bridge := connectBroker(t, cfg, "diagbridge")
	cli := connectBroker(t, cfg, "cli")

	c, err := NewMQTTConnector(Options{Client: bridge, TopicPrefix: "diagbridge", QoS: 1})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		handled []string
	)
	_, err = c.PublishObject("/diag/0", "diag.Device", Methods{"M": func(inv *Invocation) {
		// Subscribing and publishing from the dispatch goroutine wait on
		// broker acknowledgments while further calls keep arriving.
		assert.NoError(t, c.WatchClient(inv.Sender))
		mu.Lock()
		handled = append(handled, inv.ID)
		mu.Unlock()
		c.ReturnResponse(inv, inv.ID)
	}})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)

	var (
		replyMu sync.Mutex
		replies []string
	)
	require.NoError(t, cli.Subscribe("diagbridge/reply/cli", 1, func(_ string, payload []byte) error {
		var r testReply
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		replyMu.Lock()
		replies = append(replies, r.ID)
		replyMu.Unlock()
		return nil
	}))

	const n = 500
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%03d", i)
		want = append(want, id)
		payload := fmt.Sprintf(`{"id":%q,"sender":"cli","interface":"diag.Device","method":"M"}`, id)
		require.NoError(t, cli.Publish("diagbridge/call/diag/0", []byte(payload), 1, false))
	}

	require.Eventually(t, func() bool {
		replyMu.Lock()
		defer replyMu.Unlock()
		return len(replies) >= n
	}, 20*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, handled, "handlers ran out of order")
	mu.Unlock()
	replyMu.Lock()
	assert.Equal(t, want, replies, "replies arrived out of order")
	replyMu.Unlock()
	assert.True(t, c.Watching("cli"))
}

func TestMQTTConnector_BrokerPresenceAfterCall(t *testing.T) {
	cfg := mqtttest.StartBroker(t, "diagbridge")
	bridge := connectBroker(t, cfg, "diagbridge")
	cli := connectBroker(t, cfg, "cli")

	c, err := NewMQTTConnector(Options{Client: bridge, TopicPrefix: "diagbridge", QoS: 1})
	require.NoError(t, err)
	lost := make(chan string, 1)
	c.SetClientLostHandler(func(name string) { lost <- name })

	_, err = c.PublishObject("/diag/0", "diag.Device", Methods{"M": func(inv *Invocation) {
		assert.NoError(t, c.WatchClient(inv.Sender))
		c.ReturnResponse(inv, nil)
	}})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)

	// The call and the offline notice travel on different topics; the
	// call is handled first, so the notice is seen by the watch.
	call := `{"id":"1","sender":"cli","interface":"diag.Device","method":"M"}`
	require.NoError(t, cli.Publish("diagbridge/call/diag/0", []byte(call), 1, false))
	require.Eventually(t, func() bool { return c.Watching("cli") }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, cli.Publish("diagbridge/clients/cli", []byte("offline"), 1, false))

	select {
	case name := <-lost:
		assert.Equal(t, "cli", name)
	case <-time.After(5 * time.Second):
		t.Fatal("client-lost handler not called")
	}
	assert.False(t, c.Watching("cli"))
}
