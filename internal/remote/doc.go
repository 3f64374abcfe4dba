// Package remote defines the boundary between the bridge and the library
// that discovers and talks to networked devices.
//
// A ControlPoint reports every reachable network path to a device as a
// Device value and hands it to a Listener. Each path carries its own
// Service proxies; the same physical device seen on two interfaces yields
// two Device values with the same UDN and different addresses.
//
// The bridge never depends on a concrete transport. The MQTT gateway
// implementation lives in the gateway subpackage and test doubles in
// remotetest.
package remote
