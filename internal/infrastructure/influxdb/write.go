package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/diagbridge/internal/result"
)

// Measurement names.
const (
	MeasurementPing       = "diag_ping"
	MeasurementNSLookup   = "diag_nslookup"
	MeasurementTraceroute = "diag_traceroute"
	MeasurementDevice     = "diag_device"
)

// Device lifecycle events recorded in MeasurementDevice.
const (
	EventFound = "found"
	EventLost  = "lost"
)

func deviceTags(udn, path string) map[string]string {
	return map[string]string{
		"udn":  udn,
		"path": path,
	}
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

// WritePing records the outcome of a ping test.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - udn: Unique device name of the tested device
//   - path: Bus object path the device is published at
//   - res: Decoded ping result
func (c *Client) WritePing(udn, path string, res result.PingResult) {
	tags := deviceTags(udn, path)
	tags["status"] = res.Status
	c.write(MeasurementPing, tags, map[string]any{
		"success_count": int64(res.SuccessCount),
		"failure_count": int64(res.FailureCount),
		"avg_ms":        int64(res.AverageResponseTime),
		"min_ms":        int64(res.MinimumResponseTime),
		"max_ms":        int64(res.MaximumResponseTime),
	})
}

// WriteNSLookup records the outcome of a DNS lookup test. The response
// time field is the mean over the returned records, omitted when there
// are none.
//
// Parameters:
//   - udn: Unique device name of the tested device
//   - path: Bus object path the device is published at
//   - res: Decoded lookup result
func (c *Client) WriteNSLookup(udn, path string, res result.NSLookupResult) {
	tags := deviceTags(udn, path)
	tags["status"] = res.Status

	fields := map[string]any{
		"success_count": int64(res.SuccessCount),
		"records":       int64(len(res.Records)),
	}
	if n := len(res.Records); n > 0 {
		var total int64
		for _, r := range res.Records {
			total += int64(r.ResponseTime)
		}
		fields["avg_response_ms"] = total / int64(n)
	}
	c.write(MeasurementNSLookup, tags, fields)
}

// WriteTraceroute records the outcome of a traceroute test.
//
// Parameters:
//   - udn: Unique device name of the tested device
//   - path: Bus object path the device is published at
//   - res: Decoded traceroute result
func (c *Client) WriteTraceroute(udn, path string, res result.TracerouteResult) {
	tags := deviceTags(udn, path)
	tags["status"] = res.Status
	c.write(MeasurementTraceroute, tags, map[string]any{
		"response_ms": int64(res.ResponseTime),
		"hops":        int64(len(res.HopHosts)),
	})
}

// WriteDeviceEvent records a device appearing (EventFound) or
// disappearing (EventLost).
//
// Parameters:
//   - udn: Unique device name
//   - path: Bus object path the device is (or was) published at
//   - event: EventFound or EventLost
//
// Example:
//
//	client.WriteDeviceEvent("uuid:rtr", "/com/graylogic/Diagnostics/0", influxdb.EventFound)
func (c *Client) WriteDeviceEvent(udn, path, event string) {
	tags := deviceTags(udn, path)
	tags["event"] = event
	c.write(MeasurementDevice, tags, map[string]any{"count": int64(1)})
}
