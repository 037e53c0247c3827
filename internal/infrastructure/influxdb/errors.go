package influxdb

import "errors"

// Sentinel errors for telemetry operations. Check with errors.Is.
var (
	// ErrNotConnected indicates the client has no live InfluxDB connection.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates telemetry is disabled in the configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
