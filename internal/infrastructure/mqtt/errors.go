package mqtt

import "errors"

// Sentinel errors returned by the MQTT client. Check with errors.Is.
var (
	// ErrDisabled is returned by Connect when MQTT is switched off in config.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrNoSensorID is returned by Connect without a sensor ID to scope topics to.
	ErrNoSensorID = errors.New("mqtt: sensor ID is required")

	// ErrNotConnected is returned while the broker session is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the first connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker does not accept a state message.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrPayloadTooLarge is returned for state payloads over 1 MiB.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrIngestFailed is returned when the ingest subscription cannot be
	// started or stopped.
	ErrIngestFailed = errors.New("mqtt: ingest subscription failed")

	// ErrIngestActive is returned by StartIngest while a handler is installed.
	ErrIngestActive = errors.New("mqtt: ingest already started")
)
