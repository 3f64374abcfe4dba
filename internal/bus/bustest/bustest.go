// Package bustest provides an in-memory bus.Connector for tests.
package bustest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/diagbridge/internal/bus"
)

// Signal is one Notify call.
type Signal struct {
	Path      string
	Interface string
	Name      string
	Args      any
}

// Reply is the answer to one Call.
type Reply struct {
	Result    any
	ErrorName string
	ErrorText string
}

// Failed reports whether the call was answered with an error.
func (r Reply) Failed() bool {
	return r.ErrorName != ""
}

// Call is an invocation made through Connector.Call.
type Call struct {
	Inv   *bus.Invocation
	reply chan Reply
}

// Wait returns the reply, failing after timeout.
func (c *Call) Wait(timeout time.Duration) (Reply, error) {
	select {
	case r := <-c.reply:
		return r, nil
	case <-time.After(timeout):
		return Reply{}, fmt.Errorf("no reply to %s after %v", c.Inv.Method, timeout)
	}
}

type published struct {
	path    string
	iface   string
	methods bus.Methods
}

// Connector is a synchronous fake bus. Calls run their handler on the
// calling goroutine.
type Connector struct {
	mu          sync.Mutex
	objects     map[bus.Handle]*published
	next        bus.Handle
	failPublish map[string]error
	signals     []Signal
	calls       map[*bus.Invocation]*Call
	watched     map[string]bool
	watchErr    error
	lost        func(string)
	callSeq     int
}

// New creates an empty connector.
func New() *Connector {
	return &Connector{
		objects:     make(map[bus.Handle]*published),
		failPublish: make(map[string]error),
		calls:       make(map[*bus.Invocation]*Call),
		watched:     make(map[string]bool),
	}
}

// FailPublish makes PublishObject fail for iface.
func (c *Connector) FailPublish(iface string, err error) {
	c.mu.Lock()
	c.failPublish[iface] = err
	c.mu.Unlock()
}

// FailWatch makes WatchClient fail with err.
func (c *Connector) FailWatch(err error) {
	c.mu.Lock()
	c.watchErr = err
	c.mu.Unlock()
}

// PublishObject implements bus.Connector.
func (c *Connector) PublishObject(path, iface string, methods bus.Methods) (bus.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failPublish[iface]; err != nil {
		return 0, err
	}
	for _, o := range c.objects {
		if o.path == path && o.iface == iface {
			return 0, bus.ErrAlreadyPublished
		}
	}
	c.next++
	c.objects[c.next] = &published{path: path, iface: iface, methods: methods}
	return c.next, nil
}

// Unpublish implements bus.Connector.
func (c *Connector) Unpublish(h bus.Handle) {
	c.mu.Lock()
	delete(c.objects, h)
	c.mu.Unlock()
}

// Notify implements bus.Connector.
func (c *Connector) Notify(path, iface, signal string, args any) error {
	c.mu.Lock()
	c.signals = append(c.signals, Signal{Path: path, Interface: iface, Name: signal, Args: args})
	c.mu.Unlock()
	return nil
}

// ReturnResponse implements bus.Connector.
func (c *Connector) ReturnResponse(inv *bus.Invocation, result any) {
	c.answer(inv, Reply{Result: result})
}

// ReturnError implements bus.Connector.
func (c *Connector) ReturnError(inv *bus.Invocation, name, message string) {
	c.answer(inv, Reply{ErrorName: name, ErrorText: message})
}

func (c *Connector) answer(inv *bus.Invocation, r Reply) {
	c.mu.Lock()
	call := c.calls[inv]
	delete(c.calls, inv)
	c.mu.Unlock()
	if call != nil {
		call.reply <- r
	}
}

// WatchClient implements bus.Connector.
func (c *Connector) WatchClient(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchErr != nil {
		return c.watchErr
	}
	c.watched[name] = true
	return nil
}

// UnwatchClient implements bus.Connector.
func (c *Connector) UnwatchClient(name string) {
	c.mu.Lock()
	delete(c.watched, name)
	c.mu.Unlock()
}

// SetClientLostHandler implements bus.Connector.
func (c *Connector) SetClientLostHandler(fn func(name string)) {
	c.mu.Lock()
	c.lost = fn
	c.mu.Unlock()
}

// LoseClient simulates a watched client leaving the bus.
func (c *Connector) LoseClient(name string) {
	c.mu.Lock()
	watched := c.watched[name]
	delete(c.watched, name)
	fn := c.lost
	c.mu.Unlock()
	if watched && fn != nil {
		fn(name)
	}
}

// Watching reports whether name is watched.
func (c *Connector) Watching(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watched[name]
}

// Published reports whether iface is published on path.
func (c *Connector) Published(path, iface string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.objects {
		if o.path == path && o.iface == iface {
			return true
		}
	}
	return false
}

// ObjectCount returns the number of published interfaces.
func (c *Connector) ObjectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// Signals returns every Notify call so far.
func (c *Connector) Signals() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal(nil), c.signals...)
}

// SignalsNamed returns the Notify calls for one signal name.
func (c *Connector) SignalsNamed(name string) []Signal {
	var out []Signal
	for _, s := range c.Signals() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Call invokes method on the object at path the way a bus client would.
// Calls to unknown objects, interfaces or methods are answered with the
// same error names as the MQTT connector.
func (c *Connector) Call(sender, path, iface, method string, args any) *Call {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("bustest: marshalling args: %v", err))
		}
		raw = b
	}

	c.mu.Lock()
	c.callSeq++
	inv := &bus.Invocation{
		ID:        strconv.Itoa(c.callSeq),
		Sender:    sender,
		Path:      path,
		Interface: iface,
		Method:    method,
		Args:      raw,
	}
	call := &Call{Inv: inv, reply: make(chan Reply, 1)}
	c.calls[inv] = call

	var handler bus.MethodHandler
	pathKnown, ifaceKnown := false, false
	for _, o := range c.objects {
		if o.path != path {
			continue
		}
		pathKnown = true
		if o.iface == iface {
			ifaceKnown = true
			handler = o.methods[method]
		}
	}
	c.mu.Unlock()

	switch {
	case !pathKnown:
		c.ReturnError(inv, bus.ErrorUnknownObject, "No such object "+path)
	case !ifaceKnown:
		c.ReturnError(inv, bus.ErrorUnknownInterface, "No such interface "+iface)
	case handler == nil:
		c.ReturnError(inv, bus.ErrorUnknownMethod, "No such method "+method)
	default:
		handler(inv)
	}
	return call
}
