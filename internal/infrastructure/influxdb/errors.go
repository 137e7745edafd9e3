package influxdb

import "errors"

// Sentinel errors returned by the InfluxDB client. Check with errors.Is.
var (
	// ErrDisabled is returned by Connect when telemetry export is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrNoSensorID is returned by Connect without a sensor ID to tag points with.
	ErrNoSensorID = errors.New("influxdb: sensor ID is required")

	// ErrConnectionFailed is returned when the server does not answer the
	// initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
