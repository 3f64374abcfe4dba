package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic   string
	Payload []byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	return true
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// SimulateMessage delivers payload to every handler whose filter matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var matched []mqtt.MessageHandler
	for filter, h := range m.handlers {
		if topicMatches(filter, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		_ = h(topic, payload)
	}
}

func (m *MockMQTTClient) PublishedTo(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, seg := range f {
		if seg == "#" {
			return true
		}
		if i >= len(t) || (seg != "+" && seg != t[i]) {
			return false
		}
	}
	return len(f) == len(t)
}

type testReply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *replyError     `json:"error"`
}

func newTestConnector(t *testing.T) (*MQTTConnector, *MockMQTTClient) {
	t.Helper()
	client := NewMockMQTTClient()
	c, err := NewMQTTConnector(Options{Client: client, TopicPrefix: "diagbridge", QoS: 1})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)
	return c, client
}

func call(t *testing.T, client *MockMQTTClient, path, id, sender, iface, method string, args any) {
	t.Helper()
	msg := map[string]any{"id": id, "sender": sender, "interface": iface, "method": method}
	if args != nil {
		msg["args"] = args
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	client.SimulateMessage("diagbridge/call"+path, data)
}

func waitReplies(t *testing.T, client *MockMQTTClient, sender string, n int) []testReply {
	t.Helper()
	topic := "diagbridge/reply/" + sender
	require.Eventually(t, func() bool {
		return len(client.PublishedTo(topic)) >= n
	}, 2*time.Second, 5*time.Millisecond)

	var out []testReply
	for _, raw := range client.PublishedTo(topic) {
		var r testReply
		require.NoError(t, json.Unmarshal(raw, &r))
		out = append(out, r)
	}
	return out
}

func TestNewMQTTConnector_Validation(t *testing.T) {
	_, err := NewMQTTConnector(Options{TopicPrefix: "x"})
	assert.Error(t, err)
	_, err = NewMQTTConnector(Options{Client: NewMockMQTTClient()})
	assert.Error(t, err)
}

func TestPublishObject(t *testing.T) {
	c, _ := newTestConnector(t)

	h, err := c.PublishObject("/com/graylogic/Diagnostics/0", "com.graylogic.Diagnostics.Device", Methods{})
	require.NoError(t, err)
	assert.NotZero(t, h)
	assert.True(t, c.Published("/com/graylogic/Diagnostics/0", "com.graylogic.Diagnostics.Device"))

	_, err = c.PublishObject("/com/graylogic/Diagnostics/0", "com.graylogic.Diagnostics.Device", Methods{})
	assert.ErrorIs(t, err, ErrAlreadyPublished)

	for _, bad := range []string{"", "relative", "/trailing/", "/wild/+", "/wild/#"} {
		_, err = c.PublishObject(bad, "iface", Methods{})
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", bad)
	}

	c.Unpublish(h)
	assert.False(t, c.Published("/com/graylogic/Diagnostics/0", "com.graylogic.Diagnostics.Device"))
	c.Unpublish(h)

	h2, err := c.PublishObject("/com/graylogic/Diagnostics/0", "com.graylogic.Diagnostics.Device", Methods{})
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
}

func TestDispatch_CallAndReply(t *testing.T) {
	c, client := newTestConnector(t)

	type pingArgs struct {
		Host  string `json:"host"`
		Count uint32 `json:"count"`
	}
	got := make(chan pingArgs, 1)

	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{
		"Ping": func(inv *Invocation) {
			var args pingArgs
			assert.NoError(t, inv.DecodeArgs(&args))
			assert.Equal(t, "client-1", inv.Sender)
			assert.Equal(t, "/diag/0", inv.Path)
			got <- args
			c.ReturnResponse(inv, map[string]uint32{"test_id": 9})
			c.ReturnError(inv, "Late", "ignored")
			assert.True(t, inv.Answered())
		},
	})
	require.NoError(t, err)

	call(t, client, "/diag/0", "req-1", "client-1", "diag.Device", "Ping", pingArgs{Host: "example.com", Count: 3})

	select {
	case args := <-got:
		assert.Equal(t, pingArgs{Host: "example.com", Count: 3}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	replies := waitReplies(t, client, "client-1", 1)
	require.Len(t, replies, 1)
	assert.Equal(t, "req-1", replies[0].ID)
	assert.Nil(t, replies[0].Error)
	assert.JSONEq(t, `{"test_id":9}`, string(replies[0].Result))
}

func TestDispatch_Errors(t *testing.T) {
	c, client := newTestConnector(t)

	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{"Known": func(inv *Invocation) {}})
	require.NoError(t, err)

	call(t, client, "/diag/9", "1", "cli", "diag.Device", "Known", nil)
	call(t, client, "/diag/0", "2", "cli", "diag.Other", "Known", nil)
	call(t, client, "/diag/0", "3", "cli", "diag.Device", "Unknown", nil)

	replies := waitReplies(t, client, "cli", 3)
	want := map[string]string{"1": ErrorUnknownObject, "2": ErrorUnknownInterface, "3": ErrorUnknownMethod}
	for _, r := range replies {
		require.NotNil(t, r.Error, "reply %s", r.ID)
		assert.Equal(t, want[r.ID], r.Error.Name, "reply %s", r.ID)
	}
}

func TestDispatch_HandlerPanic(t *testing.T) {
	c, client := newTestConnector(t)

	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{"Boom": func(*Invocation) { panic("boom") }})
	require.NoError(t, err)

	call(t, client, "/diag/0", "1", "cli", "diag.Device", "Boom", nil)

	replies := waitReplies(t, client, "cli", 1)
	require.NotNil(t, replies[0].Error)
	assert.Equal(t, "Failed", replies[0].Error.Name)
}

func TestDispatch_IgnoresUnanswerableCalls(t *testing.T) {
	c, client := newTestConnector(t)

	called := make(chan struct{}, 3)
	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{"M": func(inv *Invocation) {
		called <- struct{}{}
		c.ReturnResponse(inv, nil)
	}})
	require.NoError(t, err)

	client.SimulateMessage("diagbridge/call/diag/0", []byte("not json"))
	call(t, client, "/diag/0", "", "cli", "diag.Device", "M", nil)
	call(t, client, "/diag/0", "1", "", "diag.Device", "M", nil)
	call(t, client, "/diag/0", "2", "cli", "diag.Device", "M", nil)

	waitReplies(t, client, "cli", 1)
	assert.Len(t, called, 1)
}

func TestDispatch_PreservesOrder(t *testing.T) {
	c, client := newTestConnector(t)

	var (
		mu    sync.Mutex
		order []string
	)
	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{"M": func(inv *Invocation) {
		mu.Lock()
		order = append(order, inv.ID)
		mu.Unlock()
		c.ReturnResponse(inv, nil)
	}})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("req-%02d", i)
		want = append(want, id)
		call(t, client, "/diag/0", id, "cli", "diag.Device", "M", nil)
	}

	waitReplies(t, client, "cli", 20)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestDispatch_BusyHandlerDoesNotBlockDelivery(t *testing.T) {
	c, client := newTestConnector(t)

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	_, err := c.PublishObject("/diag/0", "diag.Device", Methods{"M": func(inv *Invocation) {
		if inv.ID == "req-0000" {
			<-release
		}
		mu.Lock()
		order = append(order, inv.ID)
		mu.Unlock()
		c.ReturnResponse(inv, nil)
	}})
	require.NoError(t, err)

	// Far more calls than any fixed queue would hold while the first
	// handler is still running.
	const n = 2000
	want := make([]string, 0, n)
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("req-%04d", i)
			want = append(want, id)
			payload := fmt.Sprintf(`{"id":%q,"sender":"cli","interface":"diag.Device","method":"M"}`, id)
			client.SimulateMessage("diagbridge/call/diag/0", []byte(payload))
		}
	}()

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("message delivery blocked behind a busy handler")
	}
	close(release)

	require.Eventually(t, func() bool {
		return len(client.PublishedTo("diagbridge/reply/cli")) >= n
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestNotify(t *testing.T) {
	c, client := newTestConnector(t)

	require.NoError(t, c.Notify("/diag", "diag.Manager", "FoundDevice", map[string]string{"path": "/diag/0"}))

	sent := client.PublishedTo("diagbridge/signal/diag")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"interface":"diag.Manager","signal":"FoundDevice","args":{"path":"/diag/0"}}`, string(sent[0]))
}

func TestWatchClient(t *testing.T) {
	client := NewMockMQTTClient()
	c, err := NewMQTTConnector(Options{Client: client, TopicPrefix: "diagbridge"})
	require.NoError(t, err)

	assert.ErrorIs(t, c.WatchClient("cli"), ErrNotStarted)

	require.NoError(t, c.Start())
	defer c.Stop()

	assert.ErrorIs(t, c.WatchClient("a/b"), ErrInvalidClient)
	assert.ErrorIs(t, c.WatchClient(""), ErrInvalidClient)

	lost := make(chan string, 2)
	c.SetClientLostHandler(func(name string) { lost <- name })

	require.NoError(t, c.WatchClient("cli"))
	require.NoError(t, c.WatchClient("cli"))
	assert.True(t, c.Watching("cli"))
	assert.True(t, client.Subscribed("diagbridge/clients/cli"))

	client.SimulateMessage("diagbridge/clients/cli", []byte("online"))
	client.SimulateMessage("diagbridge/clients/cli", []byte("offline"))

	select {
	case name := <-lost:
		assert.Equal(t, "cli", name)
	case <-time.After(2 * time.Second):
		t.Fatal("client loss not reported")
	}
	assert.False(t, c.Watching("cli"))
	assert.False(t, client.Subscribed("diagbridge/clients/cli"))
	assert.Len(t, lost, 0)
}

func TestUnwatchClient(t *testing.T) {
	c, client := newTestConnector(t)

	lost := make(chan string, 1)
	c.SetClientLostHandler(func(name string) { lost <- name })

	require.NoError(t, c.WatchClient("cli"))
	c.UnwatchClient("cli")
	assert.False(t, client.Subscribed("diagbridge/clients/cli"))

	c.UnwatchClient("never-watched")

	select {
	case <-lost:
		t.Fatal("unwatched client reported lost")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	client := NewMockMQTTClient()
	c, err := NewMQTTConnector(Options{Client: client, TopicPrefix: "diagbridge"})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.NoError(t, c.WatchClient("cli"))

	c.Stop()
	c.Stop()

	assert.False(t, client.Subscribed("diagbridge/call/#"))
	assert.False(t, client.Subscribed("diagbridge/clients/cli"))
	assert.ErrorIs(t, c.WatchClient("other"), ErrNotStarted)
}
