// Package influxdb records diagnostic results in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each successful
// Get*Result call on the bus becomes one point tagged with the device UDN
// and object path:
//
//	diag_ping        success_count, failure_count, avg_ms, min_ms, max_ms
//	diag_nslookup    success_count, records, avg_response_ms
//	diag_traceroute  response_ms, hops
//	diag_device      count (event=found|lost)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePing(dev.UDN(), dev.Path(), res)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; failures are
// reported through the SetOnError callback.
package influxdb
