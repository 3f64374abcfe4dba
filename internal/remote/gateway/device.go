package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/diagbridge/internal/remote"
)

// device implements remote.Device for one advertised path.
type device struct {
	desc     remote.Descriptor
	address  string
	services []*service
	children []*device
}

func (d *device) Descriptor() remote.Descriptor {
	return d.desc
}

func (d *device) Address() string {
	return d.address
}

func (d *device) Service(serviceType string) (remote.Service, bool) {
	for _, s := range d.services {
		if remote.MatchServiceType(s.serviceType, serviceType) {
			return s, true
		}
	}
	return nil, false
}

func (d *device) Children() []remote.Device {
	out := make([]remote.Device, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	return out
}

// walk calls fn for d and every embedded device, depth first.
func (d *device) walk(fn func(*device)) {
	fn(d)
	for _, c := range d.children {
		c.walk(fn)
	}
}

// service implements remote.Service by relaying through the gateway.
type service struct {
	cp          *ControlPoint
	serviceType string
	udn         string
	address     string

	mu         sync.Mutex
	notify     map[string]remote.NotifyFunc
	subscribed bool
	lost       func(error)
	gone       bool
}

func newService(cp *ControlPoint, serviceType, udn, address string) *service {
	return &service{
		cp:          cp,
		serviceType: serviceType,
		udn:         udn,
		address:     address,
		notify:      make(map[string]remote.NotifyFunc),
	}
}

func (s *service) Type() string {
	return s.serviceType
}

func (s *service) Invoke(ctx context.Context, action string, args []remote.Arg) (map[string]string, error) {
	s.mu.Lock()
	gone := s.gone
	s.mu.Unlock()
	if gone {
		return nil, remote.ErrServiceGone
	}
	return s.cp.invoke(ctx, s, action, args)
}

func (s *service) AddNotify(variable string, fn remote.NotifyFunc) {
	s.mu.Lock()
	s.notify[variable] = fn
	s.mu.Unlock()
}

func (s *service) RemoveNotify(variable string) {
	s.mu.Lock()
	delete(s.notify, variable)
	s.mu.Unlock()
}

func (s *service) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	if s.gone || s.subscribed == subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = subscribed
	s.mu.Unlock()

	payload := "0"
	if subscribed {
		payload = "1"
	}
	s.cp.enqueue(s.cp.topics.Subscribe(s.udn, s.address), []byte(payload))
}

func (s *service) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *service) OnSubscriptionLost(fn func(reason error)) {
	s.mu.Lock()
	s.lost = fn
	s.mu.Unlock()
}

// deliver runs the callback registered for variable, if the service is
// subscribed.
func (s *service) deliver(variable, value string) {
	s.mu.Lock()
	fn := s.notify[variable]
	ok := s.subscribed && !s.gone
	s.mu.Unlock()

	if ok && fn != nil {
		fn(variable, value)
	}
}

// subscriptionLost marks the subscription dropped and runs the lost
// callback. The callback decides whether to subscribe again.
func (s *service) subscriptionLost(reason string) {
	s.mu.Lock()
	if s.gone || !s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = false
	fn := s.lost
	s.mu.Unlock()

	if fn != nil {
		fn(fmt.Errorf("%w: %s", errSubscriptionLost, reason))
	}
}

// retire detaches the service from the gateway. Later Invoke calls fail
// with remote.ErrServiceGone and no more events are delivered.
func (s *service) retire() {
	s.mu.Lock()
	s.gone = true
	s.subscribed = false
	s.notify = make(map[string]remote.NotifyFunc)
	s.lost = nil
	s.mu.Unlock()
}
