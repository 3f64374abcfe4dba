// Package bus publishes objects on the local RPC bus and dispatches method
// calls to them.
//
// The bus is carried over MQTT. Clients publish calls to
// {prefix}/call{objectPath} and receive replies on {prefix}/reply/{sender}.
// Signals go to {prefix}/signal{objectPath}. Each client announces itself
// on the retained topic {prefix}/clients/{sender} with "online" and sets
// "offline" as its last will, which is how a watched client is detected as
// lost.
//
// Calls are dispatched from a single goroutine in arrival order. Method
// handlers must not block; long running work is handed to the task
// package and answered later with ReturnResponse or ReturnError. Every
// invocation is answered at most once.
package bus
