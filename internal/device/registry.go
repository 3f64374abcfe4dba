package device

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/remote"
	"github.com/nerrad567/diagbridge/internal/task"
)

// Defaults applied by NewRegistry.
const (
	DefaultServiceType      = "urn:schemas-upnp-org:service:BasicManagement"
	DefaultObjectRoot       = "/com/graylogic/Diagnostics"
	DefaultResubscribeDelay = time.Second
	DefaultRetryWindow      = 10 * time.Second
)

// Logger is the structured logger used by the registry.
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

// Interface is one bus interface published at every device path.
type Interface struct {
	Name    string
	Methods bus.Methods
}

// Options configures a Registry.
type Options struct {
	// Connector publishes device objects. Required.
	Connector bus.Connector

	// ControlPoint delivers discovery events. Optional; without one the
	// registry is fed by calling DeviceAvailable and DeviceUnavailable.
	ControlPoint remote.ControlPoint

	// ServiceType selects the management service. Version suffixes are
	// ignored.
	ServiceType string

	// ObjectRoot is the parent of every device path.
	ObjectRoot string

	// Interfaces are published for each device during construction.
	Interfaces []Interface

	// ResubscribeDelay debounces resubscription after the subscribed
	// context is withdrawn.
	ResubscribeDelay time.Duration

	// RetryWindow bounds the single automatic resubscription after a
	// subscription is lost.
	RetryWindow time.Duration

	// Icons downloads device icons. A default fetcher is created if nil.
	Icons *IconFetcher

	Logger Logger
}

// Registry maps device UDNs to Devices across every network path they are
// seen on, and drives their construction and event subscriptions.
//
// Thread Safety:
//   - All registry, device and context state is guarded by one mutex.
//   - Bus calls, queue operations and found/lost handlers run after the
//     mutex is released.
type Registry struct {
	mu       sync.Mutex
	devices  map[string]*Device
	building map[string]*construction
	seq      uint64
	found    func(*Device)
	lost     func(*Device)
	closed   bool

	conn             bus.Connector
	cp               remote.ControlPoint
	serviceType      string
	objectRoot       string
	interfaces       []Interface
	resubscribeDelay time.Duration
	retryWindow      time.Duration
	icons            *IconFetcher

	loggerMu sync.RWMutex
	logger   Logger
}

// NewRegistry creates a registry. Call Start to begin discovery.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Connector == nil {
		return nil, ErrConnectorRequired
	}

	root := opts.ObjectRoot
	if root == "" {
		root = DefaultObjectRoot
	}
	if !strings.HasPrefix(root, "/") || (len(root) > 1 && strings.HasSuffix(root, "/")) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidObjectRoot, root)
	}

	serviceType := opts.ServiceType
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	delay := opts.ResubscribeDelay
	if delay <= 0 {
		delay = DefaultResubscribeDelay
	}
	window := opts.RetryWindow
	if window <= 0 {
		window = DefaultRetryWindow
	}

	icons := opts.Icons
	if icons == nil {
		var err error
		if icons, err = NewIconFetcher(0, 0); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Registry{
		devices:          make(map[string]*Device),
		building:         make(map[string]*construction),
		conn:             opts.Connector,
		cp:               opts.ControlPoint,
		serviceType:      serviceType,
		objectRoot:       root,
		interfaces:       slices.Clone(opts.Interfaces),
		resubscribeDelay: delay,
		retryWindow:      window,
		icons:            icons,
		logger:           logger,
	}, nil
}

// SetLogger replaces the logger.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// SetFoundHandler sets the callback run once a device is fully constructed.
func (r *Registry) SetFoundHandler(fn func(*Device)) {
	r.mu.Lock()
	r.found = fn
	r.mu.Unlock()
}

// SetLostHandler sets the callback run when a constructed device loses its
// last context. It runs before the device's objects are unpublished.
func (r *Registry) SetLostHandler(fn func(*Device)) {
	r.mu.Lock()
	r.lost = fn
	r.mu.Unlock()
}

// ObjectRoot returns the parent path of every device object.
func (r *Registry) ObjectRoot() string {
	return r.objectRoot
}

// Start begins discovery on the control point.
func (r *Registry) Start(ctx context.Context) error {
	if r.cp == nil {
		return ErrNoControlPoint
	}
	return r.cp.Start(ctx, r)
}

// Rescan asks the control point to search for devices again.
func (r *Registry) Rescan() error {
	if r.cp == nil {
		return ErrNoControlPoint
	}
	return r.cp.Rescan()
}

// Lookup returns the constructed device published at path.
func (r *Registry) Lookup(path string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.path == path {
			return d, nil
		}
	}
	return nil, task.ErrObjectNotFound
}

// Devices returns the constructed devices in the order they were first
// discovered.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *Device) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// Paths returns the object paths of the constructed devices in discovery
// order.
func (r *Registry) Paths() []string {
	devs := r.Devices()
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.path
	}
	return out
}

// DeviceAvailable implements remote.Listener. dev and every nested device
// carrying the management service are registered under their own UDN.
func (r *Registry) DeviceAvailable(dev remote.Device) {
	desc := dev.Descriptor()
	address := dev.Address()
	if desc.UDN == "" || address == "" {
		r.log().Warn("ignoring advertisement without identity",
			"udn", desc.UDN,
			"address", address,
		)
		return
	}

	var starts []*task.Queue
	r.mu.Lock()
	if !r.closed {
		r.addTreeLocked(dev, address, &starts)
	}
	r.mu.Unlock()

	for _, q := range starts {
		q.Start()
	}
}

func (r *Registry) addTreeLocked(dev remote.Device, address string, starts *[]*task.Queue) {
	if udn := dev.Descriptor().UDN; udn == "" {
		r.log().Debug("skipping nested device without identity", "address", address)
	} else if svc, ok := dev.Service(r.serviceType); ok {
		if q := r.addPathLocked(udn, address, dev, svc); q != nil {
			*starts = append(*starts, q)
		}
	}

	for _, child := range dev.Children() {
		r.addTreeLocked(child, address, starts)
	}
}

// addPathLocked records one path to udn. It returns the queue of a new
// construction run, which the caller must start.
func (r *Registry) addPathLocked(udn, address string, rdev remote.Device, svc remote.Service) *task.Queue {
	dev := r.devices[udn]
	if dev == nil {
		if rec := r.building[udn]; rec != nil {
			dev = rec.dev
		}
	}

	if dev == nil {
		c := newContext(address, rdev, svc)
		dev = &Device{
			reg:      r,
			udn:      udn,
			path:     r.objectRoot + "/" + strconv.FormatUint(r.seq, 10),
			seq:      r.seq,
			contexts: []*Context{c},
			props:    descriptorProps(rdev.Descriptor()),
		}
		r.seq++
		r.log().Info("new device discovered", "udn", udn, "address", address, "path", dev.path)
		return r.startConstructionLocked(dev, c, nil).queue
	}

	for _, c := range dev.contexts {
		if c.address == address {
			return nil
		}
	}
	dev.contexts = append(dev.contexts, newContext(address, rdev, svc))
	r.log().Debug("device context added", "udn", udn, "address", address)

	// Before step 0 the subscribe step picks the preferred context itself.
	if dev.constructStep > stepSubscribe {
		r.syncSubscriptionLocked(dev)
	}
	return nil
}

// DeviceUnavailable implements remote.Listener.
func (r *Registry) DeviceUnavailable(dev remote.Device) {
	desc := dev.Descriptor()
	address := dev.Address()
	if desc.UDN == "" || address == "" {
		r.log().Warn("ignoring withdrawal without identity",
			"udn", desc.UDN,
			"address", address,
		)
		return
	}

	var after []func()
	r.mu.Lock()
	if !r.closed {
		r.removeTreeLocked(dev, address, &after)
	}
	r.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (r *Registry) removeTreeLocked(dev remote.Device, address string, after *[]func()) {
	if udn := dev.Descriptor().UDN; udn != "" {
		if fn := r.removePathLocked(udn, address); fn != nil {
			*after = append(*after, fn)
		}
	}
	for _, child := range dev.Children() {
		r.removeTreeLocked(child, address, after)
	}
}

// removePathLocked drops the context of udn at address. It returns work
// that must run after the lock is released.
func (r *Registry) removePathLocked(udn, address string) func() {
	rec := r.building[udn]
	dev := r.devices[udn]
	if dev == nil && rec != nil {
		dev = rec.dev
	}
	if dev == nil {
		return nil
	}

	idx := slices.IndexFunc(dev.contexts, func(c *Context) bool { return c.address == address })
	if idx < 0 {
		return nil
	}
	removed := dev.contexts[idx]
	wasSubscribed := removed.subscribed
	removed.destroy()
	dev.contexts = slices.Delete(dev.contexts, idx, idx+1)
	r.log().Debug("device context removed", "udn", udn, "address", address)

	switch {
	case rec == nil && len(dev.contexts) == 0:
		delete(r.devices, udn)
		handles := dev.destroyLocked()
		lost := r.lost
		return func() {
			r.log().Info("device lost", "udn", udn, "path", dev.path)
			if lost != nil {
				lost(dev)
			}
			r.unpublish(handles)
		}

	case rec != nil && len(dev.contexts) == 0:
		// Detached first so a re-advertisement racing the cancel starts a
		// fresh device instead of joining this one.
		delete(r.building, udn)
		handles := dev.destroyLocked()
		q := rec.queue
		return func() {
			r.log().Info("device construction abandoned", "udn", udn, "path", dev.path)
			q.Cancel()
			r.unpublish(handles)
		}

	case rec != nil && rec.address == address:
		delete(r.building, udn)
		next := r.startConstructionLocked(dev, preferredContext(dev.contexts), rec.queue.Done())
		if wasSubscribed && dev.constructStep > stepSubscribe {
			r.scheduleResubscribeLocked(dev)
		}
		old := rec.queue
		return func() {
			old.SetFinally(nil)
			old.Cancel()
			next.queue.Start()
		}

	case wasSubscribed:
		r.scheduleResubscribeLocked(dev)
	}
	return nil
}

// syncSubscriptionLocked moves the event subscription to the preferred
// context, unsubscribing any other.
func (r *Registry) syncSubscriptionLocked(dev *Device) {
	want := preferredContext(dev.contexts)
	for _, c := range dev.contexts {
		if c != want && c.subscribed {
			c.unsubscribe()
			r.log().Debug("unsubscribed from device events", "udn", dev.udn, "address", c.address)
		}
	}
	if want == nil || want.subscribed {
		return
	}
	want.subscribe(
		func(variable, value string) { r.handleEvent(dev, want, variable, value) },
		func(reason error) { r.handleSubscriptionLost(dev, want, reason) },
	)
	r.log().Debug("subscribed to device events", "udn", dev.udn, "address", want.address)
}

// scheduleResubscribeLocked arms the device's resubscribe timer unless one
// is already pending.
func (r *Registry) scheduleResubscribeLocked(dev *Device) {
	if dev.resubscribe != nil {
		return
	}
	dev.resubGen++
	gen := dev.resubGen
	dev.resubscribe = time.AfterFunc(r.resubscribeDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if dev.destroyed || dev.resubGen != gen {
			return
		}
		dev.resubscribe = nil
		if dev.constructStep > stepSubscribe {
			r.syncSubscriptionLocked(dev)
		}
	})
}

func (r *Registry) handleEvent(dev *Device, c *Context, variable, value string) {
	key, val, ok := eventProperty(variable, value)
	if !ok {
		return
	}

	r.mu.Lock()
	if dev.destroyed || !c.subscribed {
		r.mu.Unlock()
		return
	}
	dev.props[key] = val
	path := dev.path
	r.mu.Unlock()

	err := r.conn.Notify(path, InterfaceProperties, SignalPropertiesChanged, PropertiesChanged{
		Interface:   InterfaceDevice,
		Changed:     map[string]any{key: val},
		Invalidated: []string{},
	})
	if err != nil {
		r.log().Warn("failed to emit property change", "path", path, "property", key, "error", err)
	}
}

// handleSubscriptionLost resubscribes once. A second loss inside the
// retry window abandons the subscription on this context.
func (r *Registry) handleSubscriptionLost(dev *Device, c *Context, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev.destroyed || !c.subscribed || !dev.hasContext(c) {
		return
	}

	if c.retry != nil {
		c.giveUp()
		r.log().Warn("device event subscription lost again, giving up",
			"udn", dev.udn,
			"address", c.address,
			"reason", reason,
		)
		return
	}

	r.log().Info("device event subscription lost, resubscribing",
		"udn", dev.udn,
		"address", c.address,
		"reason", reason,
	)
	c.service.SetSubscribed(true)
	c.retryGen++
	gen := c.retryGen
	c.retry = time.AfterFunc(r.retryWindow, func() {
		r.mu.Lock()
		if c.retryGen == gen {
			c.retry = nil
		}
		r.mu.Unlock()
	})
}

func (r *Registry) unpublish(handles []bus.Handle) {
	for _, h := range handles {
		r.conn.Unpublish(h)
	}
}

// Shutdown stops discovery, unsubscribes every device, shuts down the
// construction queues and unpublishes every device object. No lost
// notifications are emitted.
func (r *Registry) Shutdown() {
	if r.cp != nil {
		r.cp.Stop()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	var (
		queues  []*task.Queue
		handles []bus.Handle
	)
	for udn, rec := range r.building {
		delete(r.building, udn)
		queues = append(queues, rec.queue)
		handles = append(handles, rec.dev.destroyLocked()...)
	}
	for udn, dev := range r.devices {
		delete(r.devices, udn)
		handles = append(handles, dev.destroyLocked()...)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Shutdown()
	}
	r.unpublish(handles)
	r.log().Info("device registry shut down")
}
