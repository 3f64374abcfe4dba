package mqtt

import (
	"fmt"
	"strings"
)

// BusTopics builds the local RPC bus topics under a configurable prefix.
//
// Object paths already start with "/", so they are appended verbatim:
//
//	topics := mqtt.BusTopics{Prefix: "diagbridge"}
//	topics.Call("/com/graylogic/Diagnostics/0")
//	// Returns: "diagbridge/call/com/graylogic/Diagnostics/0"
type BusTopics struct {
	Prefix string
}

// Call returns the topic clients publish method calls for objectPath to.
func (t BusTopics) Call(objectPath string) string {
	return t.Prefix + "/call" + objectPath
}

// Signal returns the topic signals emitted by objectPath are published on.
func (t BusTopics) Signal(objectPath string) string {
	return t.Prefix + "/signal" + objectPath
}

// Reply returns the topic replies for sender are published on.
func (t BusTopics) Reply(sender string) string {
	return fmt.Sprintf("%s/reply/%s", t.Prefix, sender)
}

// Client returns the presence topic of a bus client.
func (t BusTopics) Client(sender string) string {
	return fmt.Sprintf("%s/clients/%s", t.Prefix, sender)
}

// Status returns the retained presence topic of the bridge itself.
func (t BusTopics) Status() string {
	return t.Prefix + "/system/status"
}

// PathFromCall extracts the object path from a call topic.
// ok is false if topic is not a call topic of this prefix.
func (t BusTopics) PathFromCall(topic string) (objectPath string, ok bool) {
	base := t.Prefix + "/call"
	if !strings.HasPrefix(topic, base+"/") {
		return "", false
	}
	return strings.TrimPrefix(topic, base), true
}

// RemoteTopics builds the topics of the upstream device gateway.
//
//	topics := mqtt.RemoteTopics{Prefix: "upnp"}
//	topics.Advert("uuid:1234", "192.168.1.20")
//	// Returns: "upnp/devices/uuid:1234/192.168.1.20"
type RemoteTopics struct {
	Prefix string
}

// Advert returns the retained advertisement topic of a device on one path.
func (t RemoteTopics) Advert(udn, address string) string {
	return fmt.Sprintf("%s/devices/%s/%s", t.Prefix, udn, address)
}

// AllAdverts returns a wildcard topic matching every advertisement.
func (t RemoteTopics) AllAdverts() string {
	return t.Prefix + "/devices/+/+"
}

// Action returns the topic action requests for a device path are sent to.
func (t RemoteTopics) Action(udn, address string) string {
	return fmt.Sprintf("%s/action/%s/%s", t.Prefix, udn, address)
}

// Reply returns the topic the gateway answers a bridge instance on.
func (t RemoteTopics) Reply(bridgeID string) string {
	return fmt.Sprintf("%s/reply/%s", t.Prefix, bridgeID)
}

// Event returns the topic of one evented state variable.
func (t RemoteTopics) Event(udn, address, variable string) string {
	return fmt.Sprintf("%s/events/%s/%s/%s", t.Prefix, udn, address, variable)
}

// Events returns a wildcard topic matching every event of a device path.
func (t RemoteTopics) Events(udn, address string) string {
	return fmt.Sprintf("%s/events/%s/%s/#", t.Prefix, udn, address)
}

// AllEvents returns a wildcard topic matching every event of every device.
func (t RemoteTopics) AllEvents() string {
	return t.Prefix + "/events/#"
}

// Subscribe returns the topic used to ask the gateway to (un)subscribe
// to a device's events.
func (t RemoteTopics) Subscribe(udn, address string) string {
	return fmt.Sprintf("%s/subscribe/%s/%s", t.Prefix, udn, address)
}

// Rescan returns the topic that asks the gateway to search again.
func (t RemoteTopics) Rescan() string {
	return t.Prefix + "/rescan"
}

// SplitAdvert extracts udn and address from an advertisement topic.
func (t RemoteTopics) SplitAdvert(topic string) (udn, address string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/devices/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ValidSegment reports whether s can be used as a single topic level.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
