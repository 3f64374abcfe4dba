// Package server exposes the device registry on the local bus.
//
// A Service publishes the manager object at the object root and hands the
// registry the interfaces every device object carries:
//
//	org.freedesktop.DBus.Properties          Get, GetAll
//	com.graylogic.Diagnostics.Device         GetIcon, Cancel
//	com.graylogic.Diagnostics.BasicManagement
//	    GetTestInfo, CancelTest, Ping, GetPingResult, NSLookup,
//	    GetNSLookupResult, Traceroute, GetTracerouteResult
//
// The manager object answers GetVersion, GetDevices, Rescan, Release and
// GetHistory, and emits FoundDevice and LostDevice.
//
// # Queues
//
// Every device call becomes a task.Task on the queue keyed by (caller,
// device path), so one caller's operations on one device run in order.
// Cancel cancels only that queue. A caller is watched from its first call;
// when it leaves the bus, or calls Release, all of its queues are
// cancelled. When a device is lost every queue targeting it is cancelled.
//
// Errors are returned with the name ErrorPrefix + task.Kind, for example
// "com.graylogic.Diagnostics.Error.ObjectNotFound".
package server
