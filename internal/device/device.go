package device

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/remote"
	"github.com/nerrad567/diagbridge/internal/result"
	"github.com/nerrad567/diagbridge/internal/task"
)

// Remote action names of the BasicManagement service.
const (
	ActionGetTestInfo         = "GetTestInfo"
	ActionCancelTest          = "CancelTest"
	ActionPing                = "Ping"
	ActionGetPingResult       = "GetPingResult"
	ActionNSLookup            = "NSLookup"
	ActionGetNSLookupResult   = "GetNSLookupResult"
	ActionTraceroute          = "Traceroute"
	ActionGetTracerouteResult = "GetTracerouteResult"
)

// Device is one physical device, reachable over one or more Contexts.
//
// Its path and UDN never change. Everything else is guarded by the owning
// Registry's mutex.
type Device struct {
	reg  *Registry
	udn  string
	path string
	seq  uint64

	contexts      []*Context
	props         map[string]any
	constructStep int
	handles       []bus.Handle
	resubscribe   *time.Timer
	resubGen      uint64
	destroyed     bool
	icon          *Icon

	iconFlight singleflight.Group
}

// Path returns the bus object path of the device.
func (d *Device) Path() string {
	return d.path
}

// UDN returns the device's unique name.
func (d *Device) UDN() string {
	return d.udn
}

// Addresses returns the addresses of the device's contexts in insertion
// order.
func (d *Device) Addresses() []string {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	out := make([]string, 0, len(d.contexts))
	for _, c := range d.contexts {
		out = append(out, c.address)
	}
	return out
}

// SubscribedAddress returns the address of the context holding the event
// subscription, or "" if none does.
func (d *Device) SubscribedAddress() string {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	for _, c := range d.contexts {
		if c.subscribed {
			return c.address
		}
	}
	return ""
}

// Property returns one cached property. iface must be InterfaceDevice or
// empty.
func (d *Device) Property(iface, name string) (any, error) {
	if iface != "" && iface != InterfaceDevice {
		return nil, ErrUnknownInterface
	}
	d.reg.mu.Lock()
	v, ok := d.props[name]
	d.reg.mu.Unlock()
	if !ok {
		return nil, ErrUnknownProperty
	}
	return v, nil
}

// Properties returns a copy of the property cache.
func (d *Device) Properties(iface string) (map[string]any, error) {
	if iface != "" && iface != InterfaceDevice {
		return nil, ErrUnknownInterface
	}
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	return maps.Clone(d.props), nil
}

// preferredRef returns the service ref of the preferred context.
func (d *Device) preferredRef() (*ServiceRef, error) {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	c := preferredContext(d.contexts)
	if d.destroyed || c == nil {
		return nil, ErrContextGone
	}
	return c.ref, nil
}

// invoke runs action through the preferred context. The context is
// resolved once; if it is destroyed while the action is in flight the
// reply is discarded and ErrContextGone returned.
func (d *Device) invoke(ctx context.Context, action string, args []remote.Arg) (result.Reply, error) {
	ref, err := d.preferredRef()
	if err != nil {
		return nil, err
	}

	out, err := ref.Invoke(ctx, action, args)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !ref.Valid() || errors.Is(err, remote.ErrServiceGone) {
		return nil, ErrContextGone
	}
	if err != nil {
		return nil, task.Errorf(task.KindOperationFailed, "%s operation failed: %s", action, err.Error())
	}
	return result.Reply(out), nil
}

func (d *Device) invalidResult(action string, err error) error {
	d.reg.log().Debug("undecodable action result", "udn", d.udn, "action", action, "error", err)
	return task.Errorf(task.KindOperationFailed, "%s operation failed: Invalid result", action)
}

func testIDArg(id uint32) []remote.Arg {
	return []remote.Arg{{Name: "TestID", Value: formatUint(id)}}
}

func formatUint(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

// GetTestInfo returns the type and state of a test.
func (d *Device) GetTestInfo(ctx context.Context, id uint32) (result.TestInfo, error) {
	out, err := d.invoke(ctx, ActionGetTestInfo, testIDArg(id))
	if err != nil {
		return result.TestInfo{}, err
	}
	info, err := result.DecodeTestInfo(out)
	if err != nil {
		return result.TestInfo{}, d.invalidResult(ActionGetTestInfo, err)
	}
	return info, nil
}

// CancelTest aborts a running test on the device.
func (d *Device) CancelTest(ctx context.Context, id uint32) error {
	_, err := d.invoke(ctx, ActionCancelTest, testIDArg(id))
	return err
}

// PingRequest holds the inputs of a ping test.
type PingRequest struct {
	Host        string `json:"host"`
	RepeatCount uint32 `json:"repeat_count"`
	Interval    uint32 `json:"interval"`
	BlockSize   uint32 `json:"block_size"`
	DSCP        uint32 `json:"dscp"`
}

func (r PingRequest) args() []remote.Arg {
	return []remote.Arg{
		{Name: "Host", Value: r.Host},
		{Name: "NumberOfRepetitions", Value: formatUint(r.RepeatCount)},
		{Name: "Timeout", Value: formatUint(r.Interval)},
		{Name: "DataBlockSize", Value: formatUint(r.BlockSize)},
		{Name: "DSCP", Value: formatUint(r.DSCP)},
	}
}

// NSLookupRequest holds the inputs of a DNS lookup test.
type NSLookupRequest struct {
	HostName    string `json:"host_name"`
	DNSServer   string `json:"dns_server"`
	RepeatCount uint32 `json:"repeat_count"`
	Interval    uint32 `json:"interval"`
}

func (r NSLookupRequest) args() []remote.Arg {
	return []remote.Arg{
		{Name: "HostName", Value: r.HostName},
		{Name: "DNSServer", Value: r.DNSServer},
		{Name: "NumberOfRepetitions", Value: formatUint(r.RepeatCount)},
		{Name: "Timeout", Value: formatUint(r.Interval)},
	}
}

// TracerouteRequest holds the inputs of a traceroute test.
type TracerouteRequest struct {
	Host      string `json:"host"`
	Timeout   uint32 `json:"timeout"`
	BlockSize uint32 `json:"block_size"`
	MaxHops   uint32 `json:"max_hops"`
	DSCP      uint32 `json:"dscp"`
}

func (r TracerouteRequest) args() []remote.Arg {
	return []remote.Arg{
		{Name: "Host", Value: r.Host},
		{Name: "Timeout", Value: formatUint(r.Timeout)},
		{Name: "DataBlockSize", Value: formatUint(r.BlockSize)},
		{Name: "MaxHopCount", Value: formatUint(r.MaxHops)},
		{Name: "DSCP", Value: formatUint(r.DSCP)},
	}
}

// startTest runs an action whose only output is the new test's ID.
func (d *Device) startTest(ctx context.Context, action string, args []remote.Arg) (uint32, error) {
	out, err := d.invoke(ctx, action, args)
	if err != nil {
		return 0, err
	}
	id, err := result.DecodeTestID(out)
	if err != nil {
		return 0, d.invalidResult(action, err)
	}
	return id, nil
}

// Ping starts a ping test and returns its ID.
func (d *Device) Ping(ctx context.Context, req PingRequest) (uint32, error) {
	return d.startTest(ctx, ActionPing, req.args())
}

// NSLookup starts a DNS lookup test and returns its ID.
func (d *Device) NSLookup(ctx context.Context, req NSLookupRequest) (uint32, error) {
	return d.startTest(ctx, ActionNSLookup, req.args())
}

// Traceroute starts a traceroute test and returns its ID.
func (d *Device) Traceroute(ctx context.Context, req TracerouteRequest) (uint32, error) {
	return d.startTest(ctx, ActionTraceroute, req.args())
}

// GetPingResult fetches the outcome of a ping test.
func (d *Device) GetPingResult(ctx context.Context, id uint32) (result.PingResult, error) {
	out, err := d.invoke(ctx, ActionGetPingResult, testIDArg(id))
	if err != nil {
		return result.PingResult{}, err
	}
	res, err := result.DecodePing(out)
	if err != nil {
		return result.PingResult{}, d.invalidResult(ActionGetPingResult, err)
	}
	return res, nil
}

// GetNSLookupResult fetches the outcome of a DNS lookup test.
func (d *Device) GetNSLookupResult(ctx context.Context, id uint32) (result.NSLookupResult, error) {
	out, err := d.invoke(ctx, ActionGetNSLookupResult, testIDArg(id))
	if err != nil {
		return result.NSLookupResult{}, err
	}
	res, err := result.DecodeNSLookupResult(out)
	if err != nil {
		return result.NSLookupResult{}, d.invalidResult(ActionGetNSLookupResult, err)
	}
	return res, nil
}

// GetTracerouteResult fetches the outcome of a traceroute test.
func (d *Device) GetTracerouteResult(ctx context.Context, id uint32) (result.TracerouteResult, error) {
	out, err := d.invoke(ctx, ActionGetTracerouteResult, testIDArg(id))
	if err != nil {
		return result.TracerouteResult{}, err
	}
	res, err := result.DecodeTraceroute(out)
	if err != nil {
		return result.TracerouteResult{}, d.invalidResult(ActionGetTracerouteResult, err)
	}
	return res, nil
}

// Icon returns the device icon, downloading it on first use. Concurrent
// first calls share one download. If the caller that started a shared
// download cancels it, the others start a new one.
func (d *Device) Icon(ctx context.Context) (Icon, error) {
	d.reg.mu.Lock()
	if d.icon != nil {
		icon := *d.icon
		d.reg.mu.Unlock()
		return icon, nil
	}
	c := preferredContext(d.contexts)
	destroyed := d.destroyed
	var desc remote.Descriptor
	if c != nil {
		desc = c.remote.Descriptor()
	}
	d.reg.mu.Unlock()

	if destroyed || c == nil {
		return Icon{}, ErrContextGone
	}
	if desc.IconURL == "" {
		return Icon{}, ErrNoIcon
	}

	for {
		ch := d.iconFlight.DoChan(desc.IconURL, func() (any, error) {
			return d.reg.icons.Fetch(ctx, desc.IconURL, desc.IconMimeType)
		})

		select {
		case <-ctx.Done():
			return Icon{}, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				aborted := errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)
				if aborted && ctx.Err() == nil {
					continue
				}
				return Icon{}, res.Err
			}
			icon := res.Val.(Icon) //nolint:forcetypeassert // only Fetch results are shared
			d.reg.mu.Lock()
			if d.icon == nil {
				d.icon = &icon
			}
			d.reg.mu.Unlock()
			return icon, nil
		}
	}
}

func (d *Device) hasContext(c *Context) bool {
	for _, x := range d.contexts {
		if x == c {
			return true
		}
	}
	return false
}

// destroyLocked tears the device down and returns the handles still to be
// unpublished. It is safe to call more than once.
func (d *Device) destroyLocked() []bus.Handle {
	if d.destroyed {
		return nil
	}
	d.destroyed = true
	if d.resubscribe != nil {
		d.resubscribe.Stop()
		d.resubscribe = nil
	}
	for _, c := range d.contexts {
		c.destroy()
	}
	d.contexts = nil
	handles := d.handles
	d.handles = nil
	return handles
}
