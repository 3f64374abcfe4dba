package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt/mqtttest"
)

func TestControlPoint_BrokerAdvertOrder(t *testing.T) {
	cfg := mqtttest.StartBroker(t, "diagbridge")

	bridge, err := mqtt.Connect(cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bridge.Close() })
	gw, err := mqtt.Connect(mqtttest.WithClientID(cfg, "gateway"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	cp, err := New(Options{Client: bridge, TopicPrefix: "upnp", QoS: 1, InstanceID: "bridge-1"})
	require.NoError(t, err)

	const n = 200
	l := &recordingListener{events: make(chan discoveryEvent, 2*n)}
	require.NoError(t, cp.Start(context.Background(), l))
	t.Cleanup(cp.Stop)

	// A withdrawal overtaking its advert would be ignored and leave the
	// device known, so the listener would see a different sequence.
	topic := "upnp/devices/uuid:rtr/10.0.0.1"
	payload := advertPayload(t, "uuid:rtr")
	for i := 0; i < n; i++ {
		require.NoError(t, gw.Publish(topic, payload, 1, false))
		require.NoError(t, gw.Publish(topic, nil, 1, false))
	}

	for i := 0; i < 2*n; i++ {
		select {
		case ev := <-l.events:
			require.Equal(t, i%2 == 0, ev.available, "event %d out of order", i)
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out after %d of %d discovery events", i, 2*n)
		}
	}
	l.none(t)

	cp.mu.Lock()
	defer cp.mu.Unlock()
	assert.Empty(t, cp.adverts)
}
