// Package remotetest provides in-memory remote devices for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/nerrad567/diagbridge/internal/remote"
)

// ActionFunc answers an action on a fake Service.
type ActionFunc func(ctx context.Context, action string, args []remote.Arg) (map[string]string, error)

// Call records one Invoke on a fake Service.
type Call struct {
	Action string
	Args   []remote.Arg
}

// Service is a scriptable remote.Service.
type Service struct {
	serviceType string

	mu         sync.Mutex
	handler    ActionFunc
	calls      []Call
	notify     map[string]remote.NotifyFunc
	subscribed bool
	toggles    []bool
	lost       func(error)
}

// NewService creates a fake service of the given type.
func NewService(serviceType string) *Service {
	return &Service{
		serviceType: serviceType,
		notify:      make(map[string]remote.NotifyFunc),
	}
}

// Handle sets the function answering Invoke. Without one every action
// succeeds with no output.
func (s *Service) Handle(fn ActionFunc) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Type implements remote.Service.
func (s *Service) Type() string {
	return s.serviceType
}

// Invoke implements remote.Service.
func (s *Service) Invoke(ctx context.Context, action string, args []remote.Arg) (map[string]string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Action: action, Args: args})
	handler := s.handler
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler == nil {
		return map[string]string{}, nil
	}
	return handler(ctx, action, args)
}

// AddNotify implements remote.Service.
func (s *Service) AddNotify(variable string, fn remote.NotifyFunc) {
	s.mu.Lock()
	s.notify[variable] = fn
	s.mu.Unlock()
}

// RemoveNotify implements remote.Service.
func (s *Service) RemoveNotify(variable string) {
	s.mu.Lock()
	delete(s.notify, variable)
	s.mu.Unlock()
}

// SetSubscribed implements remote.Service.
func (s *Service) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	s.subscribed = subscribed
	s.toggles = append(s.toggles, subscribed)
	s.mu.Unlock()
}

// Subscribed implements remote.Service.
func (s *Service) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// OnSubscriptionLost implements remote.Service.
func (s *Service) OnSubscriptionLost(fn func(reason error)) {
	s.mu.Lock()
	s.lost = fn
	s.mu.Unlock()
}

// Emit delivers an event if the service is subscribed and a callback is
// registered for variable. It reports whether the event was delivered.
func (s *Service) Emit(variable, value string) bool {
	s.mu.Lock()
	fn := s.notify[variable]
	ok := s.subscribed && fn != nil
	s.mu.Unlock()

	if ok {
		fn(variable, value)
	}
	return ok
}

// LoseSubscription simulates the remote side dropping the subscription.
// Like the gateway, the service is marked unsubscribed before the lost
// callback runs.
func (s *Service) LoseSubscription(reason error) {
	s.mu.Lock()
	s.subscribed = false
	fn := s.lost
	s.mu.Unlock()

	if fn != nil {
		fn(reason)
	}
}

// Calls returns the actions invoked so far.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Toggles returns every value passed to SetSubscribed, in order.
func (s *Service) Toggles() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.toggles...)
}

// HasNotify reports whether a callback is registered for variable.
func (s *Service) HasNotify(variable string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notify[variable]
	return ok
}

// Device is a remote.Device with fixed contents.
type Device struct {
	Desc     remote.Descriptor
	Addr     string
	Services []*Service
	Kids     []*Device
}

// NewDevice creates a fake device reachable at address.
func NewDevice(udn, address string, services ...*Service) *Device {
	return &Device{
		Desc: remote.Descriptor{
			DeviceType:   "urn:schemas-upnp-org:device:Basic:1",
			UDN:          udn,
			FriendlyName: "Device " + udn,
		},
		Addr:     address,
		Services: services,
	}
}

// Descriptor implements remote.Device.
func (d *Device) Descriptor() remote.Descriptor {
	return d.Desc
}

// Address implements remote.Device.
func (d *Device) Address() string {
	return d.Addr
}

// Service implements remote.Device.
func (d *Device) Service(serviceType string) (remote.Service, bool) {
	for _, s := range d.Services {
		if remote.MatchServiceType(s.Type(), serviceType) {
			return s, true
		}
	}
	return nil, false
}

// Children implements remote.Device.
func (d *Device) Children() []remote.Device {
	out := make([]remote.Device, 0, len(d.Kids))
	for _, k := range d.Kids {
		out = append(out, k)
	}
	return out
}

// ControlPoint is a remote.ControlPoint driven by the test.
type ControlPoint struct {
	mu       sync.Mutex
	listener remote.Listener
	rescans  int
	stopped  bool
}

// Start implements remote.ControlPoint.
func (c *ControlPoint) Start(_ context.Context, listener remote.Listener) error {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
	return nil
}

// Rescan implements remote.ControlPoint.
func (c *ControlPoint) Rescan() error {
	c.mu.Lock()
	c.rescans++
	c.mu.Unlock()
	return nil
}

// Stop implements remote.ControlPoint.
func (c *ControlPoint) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Rescans returns how many times Rescan was called.
func (c *ControlPoint) Rescans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rescans
}

// Advertise delivers dev to the listener as available.
func (c *ControlPoint) Advertise(dev remote.Device) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.DeviceAvailable(dev)
	}
}

// Withdraw delivers dev to the listener as unavailable.
func (c *ControlPoint) Withdraw(dev remote.Device) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.DeviceUnavailable(dev)
	}
}
