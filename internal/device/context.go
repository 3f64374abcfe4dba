package device

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/diagbridge/internal/remote"
)

// ServiceRef is a weak handle on the management service of one Context.
// Tasks hold a ServiceRef instead of the service itself; when the Context
// is destroyed the ref is invalidated and later use fails with
// ErrContextGone.
type ServiceRef struct {
	mu  sync.RWMutex
	svc remote.Service
}

func newServiceRef(svc remote.Service) *ServiceRef {
	return &ServiceRef{svc: svc}
}

// Valid reports whether the Context behind the ref still exists.
func (r *ServiceRef) Valid() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.svc != nil
}

// Invoke runs action on the service if the ref is still valid.
func (r *ServiceRef) Invoke(ctx context.Context, action string, args []remote.Arg) (map[string]string, error) {
	r.mu.RLock()
	svc := r.svc
	r.mu.RUnlock()
	if svc == nil {
		return nil, ErrContextGone
	}
	return svc.Invoke(ctx, action, args)
}

func (r *ServiceRef) invalidate() {
	r.mu.Lock()
	r.svc = nil
	r.mu.Unlock()
}

// Context is one network path to a Device.
type Context struct {
	address string
	remote  remote.Device
	service remote.Service
	ref     *ServiceRef

	subscribed bool

	// retry is the pending retry window after an automatic resubscription.
	retry    *time.Timer
	retryGen uint64
}

func newContext(address string, dev remote.Device, svc remote.Service) *Context {
	return &Context{
		address: address,
		remote:  dev,
		service: svc,
		ref:     newServiceRef(svc),
	}
}

// Address returns the local address of the path.
func (c *Context) Address() string {
	return c.address
}

// Subscribed reports whether this Context holds the event subscription.
func (c *Context) Subscribed() bool {
	return c.subscribed
}

func (c *Context) subscribe(onEvent remote.NotifyFunc, onLost func(error)) {
	for _, v := range eventVariables {
		c.service.AddNotify(v, onEvent)
	}
	c.service.OnSubscriptionLost(onLost)
	c.service.SetSubscribed(true)
	c.subscribed = true
}

// unsubscribe drops the event subscription. It is a no-op when the Context
// is not subscribed.
func (c *Context) unsubscribe() {
	c.stopRetry()
	if !c.subscribed {
		return
	}
	for _, v := range eventVariables {
		c.service.RemoveNotify(v)
	}
	c.service.OnSubscriptionLost(nil)
	c.service.SetSubscribed(false)
	c.subscribed = false
}

// giveUp abandons a subscription the remote side keeps dropping. The
// service already considers itself unsubscribed.
func (c *Context) giveUp() {
	c.stopRetry()
	for _, v := range eventVariables {
		c.service.RemoveNotify(v)
	}
	c.subscribed = false
}

func (c *Context) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// destroy releases the Context. Tasks still holding its ServiceRef fail.
func (c *Context) destroy() {
	c.unsubscribe()
	c.ref.invalidate()
}

// isLoopback reports whether address is an IPv4 127.0.0.x address or the
// IPv6 loopback in either its short or full form.
func isLoopback(address string) bool {
	if strings.HasPrefix(address, "127.0.0.") {
		return true
	}
	if address == "::1" || address == "0:0:0:0:0:0:0:1" {
		return true
	}
	ip := net.ParseIP(address)
	return ip != nil && ip.To4() == nil && ip.Equal(net.IPv6loopback)
}

// preferredContext picks the first loopback context, falling back to the
// first context in insertion order. It returns nil for an empty slice.
func preferredContext(contexts []*Context) *Context {
	for _, c := range contexts {
		if isLoopback(c.address) {
			return c
		}
	}
	if len(contexts) == 0 {
		return nil
	}
	return contexts[0]
}
