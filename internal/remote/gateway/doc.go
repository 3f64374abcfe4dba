// Package gateway implements remote.ControlPoint on top of an MQTT
// gateway that performs UPnP discovery, control and eventing on the
// bridge's behalf.
//
// The gateway publishes one retained advertisement per device and network
// path. The control point turns those into remote.Device values, relays
// actions as request/reply messages correlated by UUID and routes evented
// variables to the service proxies that registered for them.
//
// Topic layout (prefix "upnp" by default):
//
//	upnp/devices/{udn}/{address}          retained advert, empty = withdrawn
//	upnp/action/{udn}/{address}           action request
//	upnp/reply/{bridge-id}                action reply
//	upnp/events/{udn}/{address}/{var}     evented value, $lost = subscription lost
//	upnp/subscribe/{udn}/{address}        "1" or "0"
//	upnp/rescan                           trigger a new search
//
// Adverts and events are processed by one goroutine in arrival order, so
// the remote.Listener sees a consistent sequence. Replies are matched on
// the MQTT delivery goroutine and never wait on the listener.
package gateway
