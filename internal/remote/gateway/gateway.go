package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/diagbridge/internal/remote"
)

const (
	// defaultActionTimeout bounds an action when Options.ActionTimeout is zero.
	defaultActionTimeout = 30 * time.Second
)

// MQTTClient is the subset of the MQTT client used by the control point.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the structured logger used by the control point.
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

// Options configures a ControlPoint.
type Options struct {
	// Client is the shared MQTT connection. Required.
	Client MQTTClient

	// TopicPrefix is the gateway's topic root. Required.
	TopicPrefix string

	// QoS is used for every publish and subscribe.
	QoS byte

	// ActionTimeout bounds one action round trip.
	ActionTimeout time.Duration

	// InstanceID names this bridge on the reply topic. A random UUID is
	// used when empty.
	InstanceID string

	// Logger is optional.
	Logger Logger
}

// pathKey identifies one device (root or embedded) on one network path.
type pathKey struct {
	udn     string
	address string
}

type inboundKind int

const (
	inboundAdvert inboundKind = iota
	inboundEvent
)

type inbound struct {
	kind    inboundKind
	topic   string
	payload []byte
}

type outbound struct {
	topic   string
	payload []byte
}

// ControlPoint discovers devices through the MQTT gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listener callbacks run on one goroutine owned by the control point.
type ControlPoint struct {
	client        MQTTClient
	topics        mqtt.RemoteTopics
	qos           byte
	instanceID    string
	actionTimeout time.Duration

	mu       sync.Mutex
	started  bool
	listener remote.Listener
	adverts  map[pathKey]*device // root devices by advert topic
	services map[pathKey][]*service
	pending  map[string]chan actionReply

	inbox  *mqtt.Inbox[inbound]
	outbox *mqtt.Inbox[outbound]
	done   chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a control point. Call Start to begin discovery.
func New(opts Options) (*ControlPoint, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("topic prefix is required")
	}

	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	id := opts.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &ControlPoint{
		client:        opts.Client,
		topics:        mqtt.RemoteTopics{Prefix: opts.TopicPrefix},
		qos:           opts.QoS,
		instanceID:    id,
		actionTimeout: timeout,
		adverts:       make(map[pathKey]*device),
		services:      make(map[pathKey][]*service),
		pending:       make(map[string]chan actionReply),
		inbox:         mqtt.NewInbox[inbound](),
		outbox:        mqtt.NewInbox[outbound](),
		done:          make(chan struct{}),
		logger:        logger,
	}, nil
}

// SetLogger replaces the logger.
func (cp *ControlPoint) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	cp.loggerMu.Lock()
	cp.logger = logger
	cp.loggerMu.Unlock()
}

func (cp *ControlPoint) log() Logger {
	cp.loggerMu.RLock()
	defer cp.loggerMu.RUnlock()
	return cp.logger
}

// InstanceID returns the identifier used on the reply topic.
func (cp *ControlPoint) InstanceID() string {
	return cp.instanceID
}

// Start subscribes to the gateway topics and begins delivering discovery
// events to listener. Retained adverts published before Start are
// delivered too.
func (cp *ControlPoint) Start(ctx context.Context, listener remote.Listener) error {
	if listener == nil {
		return fmt.Errorf("listener is required")
	}

	cp.mu.Lock()
	if cp.started {
		cp.mu.Unlock()
		return ErrAlreadyStarted
	}
	cp.started = true
	cp.listener = listener
	cp.mu.Unlock()

	cp.wg.Add(2)
	go cp.processInbox()
	go cp.processOutbox()

	// Replies first so no action can miss its answer.
	if err := cp.client.Subscribe(cp.topics.Reply(cp.instanceID), cp.qos, cp.handleReply); err != nil {
		return fmt.Errorf("subscribe to replies: %w", err)
	}
	if err := cp.client.Subscribe(cp.topics.AllEvents(), cp.qos, cp.queue(inboundEvent)); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	if err := cp.client.Subscribe(cp.topics.AllAdverts(), cp.qos, cp.queue(inboundAdvert)); err != nil {
		return fmt.Errorf("subscribe to adverts: %w", err)
	}

	cp.log().Info("remote control point started",
		"prefix", cp.topics.Prefix,
		"instance", cp.instanceID,
	)

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cp.Stop()
			case <-cp.done:
			}
		}()
	}
	return nil
}

// Rescan asks the gateway to search for devices again.
func (cp *ControlPoint) Rescan() error {
	cp.mu.Lock()
	started := cp.started
	cp.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return cp.client.Publish(cp.topics.Rescan(), []byte("1"), cp.qos, false)
}

// Stop unsubscribes from the gateway, fails outstanding actions with
// remote.ErrStopped and waits for the worker goroutines. Known devices
// are not reported as unavailable.
func (cp *ControlPoint) Stop() {
	cp.stopOnce.Do(func() {
		for _, topic := range []string{cp.topics.AllAdverts(), cp.topics.AllEvents(), cp.topics.Reply(cp.instanceID)} {
			if err := cp.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
				cp.log().Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}

		close(cp.done)
		cp.wg.Wait()
		cp.inbox.Close()
		cp.outbox.Close()

		cp.mu.Lock()
		for id, ch := range cp.pending {
			close(ch)
			delete(cp.pending, id)
		}
		for k, list := range cp.services {
			for _, s := range list {
				s.retire()
			}
			delete(cp.services, k)
		}
		cp.mu.Unlock()

		cp.log().Info("remote control point stopped")
	})
}

// queue returns an MQTT handler that hands messages to the inbox
// goroutine without blocking the paho router.
func (cp *ControlPoint) queue(kind inboundKind) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		cp.inbox.Push(inbound{kind: kind, topic: topic, payload: append([]byte(nil), payload...)})
		return nil
	}
}

func (cp *ControlPoint) processInbox() {
	defer cp.wg.Done()
	for {
		select {
		case <-cp.done:
			return
		case <-cp.inbox.Ready():
		}
		for _, msg := range cp.inbox.Drain() {
			if cp.stopped() {
				return
			}
			switch msg.kind {
			case inboundAdvert:
				cp.handleAdvert(msg.topic, msg.payload)
			case inboundEvent:
				cp.handleEvent(msg.topic, msg.payload)
			}
		}
	}
}

// processOutbox publishes subscription toggles in the order they were
// requested, off the caller's goroutine.
func (cp *ControlPoint) processOutbox() {
	defer cp.wg.Done()
	for {
		select {
		case <-cp.done:
			return
		case <-cp.outbox.Ready():
		}
		for _, msg := range cp.outbox.Drain() {
			if cp.stopped() {
				return
			}
			if err := cp.client.Publish(msg.topic, msg.payload, cp.qos, false); err != nil {
				cp.log().Warn("publish to gateway failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

func (cp *ControlPoint) enqueue(topic string, payload []byte) {
	cp.outbox.Push(outbound{topic: topic, payload: payload})
}

func (cp *ControlPoint) stopped() bool {
	select {
	case <-cp.done:
		return true
	default:
		return false
	}
}

func (cp *ControlPoint) handleAdvert(topic string, payload []byte) {
	udn, address, ok := cp.topics.SplitAdvert(topic)
	if !ok {
		cp.log().Warn("ignoring advert on malformed topic", "topic", topic)
		return
	}
	key := pathKey{udn: udn, address: address}

	if len(payload) == 0 {
		cp.withdraw(key)
		return
	}

	var adv advert
	if err := json.Unmarshal(payload, &adv); err != nil {
		cp.log().Warn("ignoring unparseable advert", "topic", topic, "error", err)
		return
	}
	if adv.UDN == "" || adv.UDN != udn {
		cp.log().Warn("ignoring advert without matching identity", "topic", topic, "udn", adv.UDN)
		return
	}

	cp.mu.Lock()
	if _, known := cp.adverts[key]; known {
		cp.mu.Unlock()
		cp.log().Debug("duplicate advert ignored", "udn", udn, "address", address)
		return
	}
	dev := cp.build(adv, address)
	cp.adverts[key] = dev
	dev.walk(func(d *device) {
		k := pathKey{udn: d.desc.UDN, address: address}
		cp.services[k] = append(cp.services[k], d.services...)
	})
	listener := cp.listener
	cp.mu.Unlock()

	cp.log().Debug("device available", "udn", udn, "address", address)
	listener.DeviceAvailable(dev)
}

func (cp *ControlPoint) withdraw(key pathKey) {
	cp.mu.Lock()
	dev, ok := cp.adverts[key]
	if !ok {
		cp.mu.Unlock()
		return
	}
	delete(cp.adverts, key)
	dev.walk(func(d *device) {
		k := pathKey{udn: d.desc.UDN, address: key.address}
		cp.services[k] = without(cp.services[k], d.services)
		if len(cp.services[k]) == 0 {
			delete(cp.services, k)
		}
	})
	listener := cp.listener
	cp.mu.Unlock()

	cp.log().Debug("device unavailable", "udn", key.udn, "address", key.address)
	listener.DeviceUnavailable(dev)

	// Retire after the listener ran so it can still unsubscribe cleanly.
	dev.walk(func(d *device) {
		for _, s := range d.services {
			s.retire()
		}
	})
}

// build converts an advert into proxies. Embedded devices without a UDN
// cannot be addressed and are skipped.
func (cp *ControlPoint) build(adv advert, address string) *device {
	dev := &device{desc: adv.Descriptor, address: address}
	for _, sa := range adv.Services {
		dev.services = append(dev.services, newService(cp, sa.ServiceType, adv.UDN, address))
	}
	for _, child := range adv.Devices {
		if child.UDN == "" {
			cp.log().Warn("ignoring embedded device without identity", "parent", adv.UDN)
			continue
		}
		dev.children = append(dev.children, cp.build(child, address))
	}
	return dev
}

func (cp *ControlPoint) handleEvent(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, cp.topics.Prefix+"/events/")
	if !ok {
		return
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		cp.log().Warn("ignoring event on malformed topic", "topic", topic)
		return
	}
	key := pathKey{udn: parts[0], address: parts[1]}
	variable := parts[2]

	cp.mu.Lock()
	targets := append([]*service(nil), cp.services[key]...)
	cp.mu.Unlock()

	for _, s := range targets {
		if variable == subscriptionLostVariable {
			s.subscriptionLost(string(payload))
			continue
		}
		s.deliver(variable, string(payload))
	}
}

// invoke publishes an action request and waits for the matching reply.
func (cp *ControlPoint) invoke(ctx context.Context, s *service, action string, args []remote.Arg) (map[string]string, error) {
	id := uuid.NewString()
	ch := make(chan actionReply, 1)

	cp.mu.Lock()
	select {
	case <-cp.done:
		cp.mu.Unlock()
		return nil, remote.ErrStopped
	default:
	}
	cp.pending[id] = ch
	cp.mu.Unlock()

	defer func() {
		cp.mu.Lock()
		delete(cp.pending, id)
		cp.mu.Unlock()
	}()

	if args == nil {
		args = []remote.Arg{}
	}
	req := actionRequest{
		ID:      id,
		ReplyTo: cp.topics.Reply(cp.instanceID),
		Service: s.serviceType,
		Action:  action,
		Args:    args,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", action, err)
	}
	if err := cp.client.Publish(cp.topics.Action(s.udn, s.address), data, cp.qos, false); err != nil {
		return nil, fmt.Errorf("send %s request: %w", action, err)
	}

	timer := time.NewTimer(cp.actionTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, remote.ErrStopped
		}
		if reply.Error != nil {
			return nil, &remote.ActionError{Code: reply.Error.Code, Description: reply.Error.Description}
		}
		if reply.Out == nil {
			reply.Out = map[string]string{}
		}
		return reply.Out, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", remote.ErrActionTimeout, action)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cp *ControlPoint) handleReply(_ string, payload []byte) error {
	var reply actionReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return fmt.Errorf("parsing action reply: %w", err)
	}

	cp.mu.Lock()
	ch, ok := cp.pending[reply.ID]
	if ok {
		delete(cp.pending, reply.ID)
	}
	cp.mu.Unlock()

	if !ok {
		cp.log().Debug("reply for unknown or expired action", "id", reply.ID)
		return nil
	}
	ch <- reply
	return nil
}

// without returns list minus every element of drop.
func without(list, drop []*service) []*service {
	out := list[:0]
	for _, s := range list {
		keep := true
		for _, d := range drop {
			if s == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}
