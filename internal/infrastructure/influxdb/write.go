package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTaskDispatch records a task dispatch with its delivery mode
// ("push" or "queued") and dispatch latency. Non-blocking; the point is
// batched and sent asynchronously.
func (c *Client) WriteTaskDispatch(deviceID, command, delivery string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"task_dispatch",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"delivery":  delivery,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTaskResult records a reported task result and the round-trip time
// from dispatch to report.
func (c *Client) WriteTaskResult(deviceID, command, status string, roundTrip time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"task_result",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"status":    status,
		},
		map[string]interface{}{
			"round_trip_ms": float64(roundTrip.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHeartbeat records a device heartbeat for presence dashboards.
func (c *Client) WriteHeartbeat(deviceID string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_heartbeat",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom measurement that does not fit the helpers.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
