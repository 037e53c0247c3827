// Package influxdb writes control-plane telemetry to InfluxDB v2:
// task dispatch latency and delivery mode, result round-trip times, and
// device heartbeats for presence dashboards.
//
// Writes are batched and non-blocking; batch errors surface through the
// SetOnError callback rather than through the write calls. All methods
// are safe for concurrent use.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTaskDispatch("dev-4f2a91c3", "open_app", "push", latency)
package influxdb
