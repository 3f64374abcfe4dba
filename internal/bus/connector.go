package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of the MQTT client used by the connector.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the structured logger used by the connector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an MQTTConnector.
type Options struct {
	Client      MQTTClient
	TopicPrefix string
	QoS         byte
	Logger      Logger
}

type object struct {
	path    string
	iface   string
	methods Methods
}

type inboxKind int

const (
	inboxCall inboxKind = iota
	inboxPresence
)

type inboxMessage struct {
	kind    inboxKind
	topic   string
	payload []byte
}

// MQTTConnector implements Connector over MQTT.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Method handlers and the client-lost handler run on the dispatch
//     goroutine, one at a time.
type MQTTConnector struct {
	client MQTTClient
	topics mqtt.BusTopics
	qos    byte

	mu       sync.RWMutex
	objects  map[string]map[string]*object // path -> interface -> object
	handles  map[Handle]*object
	next     Handle
	watched  map[string]bool
	onLost   func(name string)
	started  bool
	stopping bool

	inbox    *mqtt.Inbox[inboxMessage]
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMQTTConnector creates a connector. Objects may be published before
// Start; calls are only received after it.
func NewMQTTConnector(opts Options) (*MQTTConnector, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("topic prefix is required")
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &MQTTConnector{
		client:  opts.Client,
		topics:  mqtt.BusTopics{Prefix: opts.TopicPrefix},
		qos:     opts.QoS,
		objects: make(map[string]map[string]*object),
		handles: make(map[Handle]*object),
		watched: make(map[string]bool),
		inbox:   mqtt.NewInbox[inboxMessage](),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// SetLogger replaces the logger.
func (c *MQTTConnector) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *MQTTConnector) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Start subscribes to the call topics and starts the dispatch goroutine.
func (c *MQTTConnector) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dispatchLoop()

	topic := c.topics.Prefix + "/call/#"
	if err := c.client.Subscribe(topic, c.qos, c.enqueue(inboxCall)); err != nil {
		return fmt.Errorf("subscribe to calls: %w", err)
	}
	c.log().Info("bus connector started", "prefix", c.topics.Prefix)
	return nil
}

// Stop unsubscribes from every topic and stops dispatching. Calls that
// are still queued are dropped unanswered.
func (c *MQTTConnector) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		watched := make([]string, 0, len(c.watched))
		for name := range c.watched {
			watched = append(watched, name)
		}
		c.watched = make(map[string]bool)
		c.mu.Unlock()

		topics := []string{c.topics.Prefix + "/call/#"}
		for _, name := range watched {
			topics = append(topics, c.topics.Client(name))
		}
		for _, topic := range topics {
			if err := c.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
				c.log().Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}

		close(c.done)
		c.wg.Wait()
		c.inbox.Close()
		c.log().Info("bus connector stopped")
	})
}

// PublishObject exposes iface at path. Publishing the same interface
// twice on one path fails with ErrAlreadyPublished.
func (c *MQTTConnector) PublishObject(path, iface string, methods Methods) (Handle, error) {
	if !validPath(path) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if iface == "" {
		return 0, fmt.Errorf("interface name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ifaces := c.objects[path]
	if ifaces == nil {
		ifaces = make(map[string]*object)
		c.objects[path] = ifaces
	}
	if _, exists := ifaces[iface]; exists {
		return 0, fmt.Errorf("%w: %s %s", ErrAlreadyPublished, path, iface)
	}

	obj := &object{path: path, iface: iface, methods: methods}
	ifaces[iface] = obj
	c.next++
	h := c.next
	c.handles[h] = obj
	return h, nil
}

// Unpublish removes a published interface. Unknown handles are ignored.
func (c *MQTTConnector) Unpublish(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.handles[h]
	if !ok {
		return
	}
	delete(c.handles, h)
	if ifaces := c.objects[obj.path]; ifaces != nil {
		delete(ifaces, obj.iface)
		if len(ifaces) == 0 {
			delete(c.objects, obj.path)
		}
	}
}

// Published reports whether iface is currently exposed at path.
func (c *MQTTConnector) Published(path, iface string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.objects[path][iface]
	return ok
}

// Notify broadcasts a signal from path.
func (c *MQTTConnector) Notify(path, iface, signal string, args any) error {
	data, err := json.Marshal(signalMessage{Interface: iface, Signal: signal, Args: args})
	if err != nil {
		return fmt.Errorf("marshal signal %s.%s: %w", iface, signal, err)
	}
	return c.client.Publish(c.topics.Signal(path), data, c.qos, false)
}

// ReturnResponse answers inv with result. Later answers are ignored.
func (c *MQTTConnector) ReturnResponse(inv *Invocation, result any) {
	if !inv.claim() {
		c.log().Debug("invocation already answered", "id", inv.ID, "method", inv.Method)
		return
	}
	c.reply(inv, replyMessage{ID: inv.ID, Result: result})
}

// ReturnError answers inv with an error. Later answers are ignored.
func (c *MQTTConnector) ReturnError(inv *Invocation, name, message string) {
	if !inv.claim() {
		c.log().Debug("invocation already answered", "id", inv.ID, "method", inv.Method)
		return
	}
	c.reply(inv, replyMessage{ID: inv.ID, Error: &replyError{Name: name, Message: message}})
}

func (c *MQTTConnector) reply(inv *Invocation, msg replyMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log().Error("marshal reply failed", "id", inv.ID, "method", inv.Method, "error", err)
		data, _ = json.Marshal(replyMessage{ID: inv.ID, Error: &replyError{Name: "Failed", Message: err.Error()}})
	}
	if err := c.client.Publish(c.topics.Reply(inv.Sender), data, c.qos, false); err != nil {
		c.log().Warn("publish reply failed", "id", inv.ID, "sender", inv.Sender, "error", err)
	}
}

// WatchClient starts tracking the presence of a client. Watching an
// already watched client is a no-op.
func (c *MQTTConnector) WatchClient(name string) error {
	if !mqtt.ValidSegment(name) {
		return fmt.Errorf("%w: %q", ErrInvalidClient, name)
	}

	c.mu.Lock()
	if !c.started || c.stopping {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.watched[name] {
		c.mu.Unlock()
		return nil
	}
	c.watched[name] = true
	c.mu.Unlock()

	if err := c.client.Subscribe(c.topics.Client(name), c.qos, c.enqueue(inboxPresence)); err != nil {
		c.mu.Lock()
		delete(c.watched, name)
		c.mu.Unlock()
		return fmt.Errorf("watch client %s: %w", name, err)
	}
	return nil
}

// UnwatchClient stops tracking a client.
func (c *MQTTConnector) UnwatchClient(name string) {
	c.mu.Lock()
	watched := c.watched[name]
	delete(c.watched, name)
	c.mu.Unlock()

	if !watched {
		return
	}
	if err := c.client.Unsubscribe(c.topics.Client(name)); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		c.log().Warn("unwatch client failed", "client", name, "error", err)
	}
}

// Watching reports whether name is being watched.
func (c *MQTTConnector) Watching(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watched[name]
}

// SetClientLostHandler sets the callback run when a watched client goes
// offline. The client is unwatched before fn runs.
func (c *MQTTConnector) SetClientLostHandler(fn func(name string)) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// enqueue returns an MQTT handler that queues messages for the dispatch
// goroutine. It never blocks the paho router, so handlers may publish and
// subscribe while more calls arrive.
func (c *MQTTConnector) enqueue(kind inboxKind) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		c.inbox.Push(inboxMessage{kind: kind, topic: topic, payload: append([]byte(nil), payload...)})
		return nil
	}
}

func (c *MQTTConnector) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.inbox.Ready():
		}
		for _, msg := range c.inbox.Drain() {
			select {
			case <-c.done:
				return
			default:
			}
			switch msg.kind {
			case inboxCall:
				c.handleCall(msg.topic, msg.payload)
			case inboxPresence:
				c.handlePresence(msg.topic, msg.payload)
			}
		}
	}
}

func (c *MQTTConnector) handleCall(topic string, payload []byte) {
	path, ok := c.topics.PathFromCall(topic)
	if !ok {
		return
	}

	var msg callMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log().Warn("ignoring unparseable call", "topic", topic, "error", err)
		return
	}
	if msg.ID == "" || !mqtt.ValidSegment(msg.Sender) {
		// Nowhere to send a reply.
		c.log().Warn("ignoring call without id or sender", "topic", topic)
		return
	}

	inv := &Invocation{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Path:      path,
		Interface: msg.Interface,
		Method:    msg.Method,
		Args:      msg.Args,
	}

	c.mu.RLock()
	ifaces, pathKnown := c.objects[path]
	obj := ifaces[msg.Interface]
	c.mu.RUnlock()

	switch {
	case !pathKnown:
		c.ReturnError(inv, ErrorUnknownObject, fmt.Sprintf("No such object %s", path))
		return
	case obj == nil:
		c.ReturnError(inv, ErrorUnknownInterface, fmt.Sprintf("No such interface %s at %s", msg.Interface, path))
		return
	}

	handler, ok := obj.methods[msg.Method]
	if !ok || handler == nil {
		c.ReturnError(inv, ErrorUnknownMethod, fmt.Sprintf("No such method %s.%s", msg.Interface, msg.Method))
		return
	}

	c.invoke(handler, inv)
}

// invoke runs a handler, answering the call if the handler panics.
func (c *MQTTConnector) invoke(handler MethodHandler, inv *Invocation) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("method handler panic", "method", inv.Method, "path", inv.Path, "panic", r)
			c.ReturnError(inv, "Failed", "internal error")
		}
	}()
	handler(inv)
}

func (c *MQTTConnector) handlePresence(topic string, payload []byte) {
	name, ok := strings.CutPrefix(topic, c.topics.Prefix+"/clients/")
	if !ok {
		return
	}
	status := strings.TrimSpace(string(payload))
	if status == presenceOnline {
		return
	}
	if status != presenceOffline && status != "" {
		c.log().Debug("unknown presence payload", "client", name, "payload", status)
		return
	}

	c.mu.RLock()
	watched := c.watched[name]
	fn := c.onLost
	c.mu.RUnlock()
	if !watched {
		return
	}

	c.UnwatchClient(name)
	c.log().Debug("bus client lost", "client", name)
	if fn != nil {
		fn(name)
	}
}

// validPath reports whether path is an absolute object path usable in a
// topic.
func validPath(path string) bool {
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, "+#") {
		return false
	}
	return path == "/" || !strings.HasSuffix(path, "/")
}
