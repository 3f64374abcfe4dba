// Package device bridges BasicManagement devices found on the network onto
// the local bus.
//
// # Identity and contexts
//
// A Device is one physical device, keyed by its UDN. Every network path it
// is reachable on is a Context. Contexts come and go independently as the
// control point sees advertisements appear and disappear; the Device lives
// exactly as long as it has at least one Context.
//
// One Context is preferred: the first loopback one (127.0.0.*, ::1), or
// else the first one seen. Actions are sent through the preferred Context
// and at most one Context holds the event subscription.
//
// # Construction
//
// A newly seen Device is brought up by a construction pipeline running on
// its own task.Queue:
//
//	step 0  subscribe to DeviceStatus, TestIDs and ActiveTestIDs
//	step 1  publish the bus interfaces at <root>/<n>
//
// The step counter lives on the Device. If the Context used for
// construction disappears half way, the run is superseded and a new run
// resumes from the same step on the next preferred Context.
//
// # Subscriptions
//
// When the remote side drops a subscription the Context resubscribes once
// and opens a retry window (10s by default). A second loss inside the
// window makes it give up until the Context set changes again.
//
// Thread Safety:
//
// All Registry, Device and Context state is guarded by one mutex per
// Registry. Collaborator calls that can call back into the registry (queue
// cancellation, found/lost handlers, unpublishing) are made after the
// mutex is released.
package device
