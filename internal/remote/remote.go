package remote

import (
	"context"
	"strings"
)

// Descriptor holds the static description fields a device advertises.
type Descriptor struct {
	DeviceType       string `json:"device_type"`
	UDN              string `json:"udn"`
	FriendlyName     string `json:"friendly_name"`
	IconURL          string `json:"icon_url,omitempty"`
	IconMimeType     string `json:"icon_mime_type,omitempty"`
	Manufacturer     string `json:"manufacturer,omitempty"`
	ManufacturerURL  string `json:"manufacturer_url,omitempty"`
	ModelDescription string `json:"model_description,omitempty"`
	ModelName        string `json:"model_name,omitempty"`
	ModelNumber      string `json:"model_number,omitempty"`
	SerialNumber     string `json:"serial_number,omitempty"`
	PresentationURL  string `json:"presentation_url,omitempty"`
}

// Arg is one named input argument of a remote action. Order matters on
// the wire, so actions take a slice rather than a map.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NotifyFunc receives the new value of an evented state variable.
type NotifyFunc func(variable, value string)

// Service is a proxy for one service of a device, reached over one
// network path.
type Service interface {
	// Type returns the full service type, including its version.
	Type() string

	// Invoke runs an action and returns its output arguments by name.
	// It blocks until the reply arrives or ctx is done.
	Invoke(ctx context.Context, action string, args []Arg) (map[string]string, error)

	// AddNotify registers fn for changes of variable, replacing any
	// previous registration.
	AddNotify(variable string, fn NotifyFunc)

	// RemoveNotify drops the registration for variable. It is a no-op if
	// none exists.
	RemoveNotify(variable string)

	// SetSubscribed starts or stops event delivery. It does not wait for
	// the remote side to confirm.
	SetSubscribed(subscribed bool)

	// Subscribed reports the last value passed to SetSubscribed.
	Subscribed() bool

	// OnSubscriptionLost sets the callback run when the remote side drops
	// the event subscription. nil clears it.
	OnSubscriptionLost(fn func(reason error))
}

// Device is one device as seen over one network path.
type Device interface {
	Descriptor() Descriptor

	// Address is the local address of the network path the device was
	// seen on.
	Address() string

	// Service returns the first service whose type starts with
	// serviceType, so version suffixes are ignored.
	Service(serviceType string) (Service, bool)

	// Children returns the embedded devices, in advertisement order.
	Children() []Device
}

// Listener receives discovery events. Calls are made from a single
// goroutine in the order the events were observed.
type Listener interface {
	DeviceAvailable(dev Device)
	DeviceUnavailable(dev Device)
}

// ControlPoint discovers devices and delivers them to a Listener.
type ControlPoint interface {
	Start(ctx context.Context, listener Listener) error
	Rescan() error
	Stop()
}

// MatchServiceType reports whether serviceType names the same service as
// want, ignoring any version suffix.
func MatchServiceType(serviceType, want string) bool {
	return strings.HasPrefix(serviceType, want)
}
