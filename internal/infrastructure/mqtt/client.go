package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sensord/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the broker session of one sensor.
//
// It publishes the sensor's retained state, announces the service on the
// sensor's status topic, and optionally delivers the sensor's ingest topic
// to a handler. All topics are derived from the sensor ID given to Connect.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	sensorID string
	clientID string
	qos      byte
	log      Logger

	online atomic.Bool

	// ingestMu is held for reading while a handler runs, so StopIngest
	// returns only once no handler call is in flight.
	ingestMu sync.RWMutex
	ingest   func(payload []byte) error
}

// Connect opens the broker session for sensorID.
//
// The connection retries in the background after the first attempt, and the
// ingest subscription (once started) is restored on every reconnect.
//
// Parameters:
//   - cfg: MQTT configuration; Enabled must be true
//   - sensorID: sensor the state, ingest and status topics belong to
//   - logger: receives session events and ingest failures (nil discards them)
//
// Returns:
//   - *Client: connected client, ready to publish
//   - error: ErrDisabled, ErrNoSensorID, or ErrConnectionFailed
func Connect(cfg config.MQTTConfig, sensorID string, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if sensorID == "" {
		return nil, ErrNoSensorID
	}
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Client{
		sensorID: sensorID,
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS), // #nosec G115 -- validated to 0..2
		log:      logger,
	}
	c.paho = pahomqtt.NewClient(c.sessionOptions(cfg))

	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background retry loop started by SetConnectRetry.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onSessionUp runs asynchronously; mark the session up for callers now.
	c.online.Store(true)
	return c, nil
}

// SensorID returns the sensor the client's topics belong to.
func (c *Client) SensorID() string {
	return c.sensorID
}

// PublishState publishes payload as the retained state of the sensor.
//
// Parameters:
//   - payload: encoded reading, at most 1 MiB
//
// Returns:
//   - error: ErrPayloadTooLarge, ErrNotConnected, or ErrPublishFailed
func (c *Client) PublishState(payload []byte) error {
	if len(payload) > maxStatePayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	topic := StateTopic(c.sensorID)
	token := c.paho.Publish(topic, c.qos, true, payload)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrPublishFailed, topic, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker session is up. Safe on a nil client.
func (c *Client) IsConnected() bool {
	return c != nil && c.paho != nil && c.online.Load() && c.paho.IsConnectionOpen()
}

// Close stops ingest, marks the sensor offline with a graceful status
// (distinct from the will), and disconnects.
//
// Returns:
//   - error: always nil; ingest stop failures are logged
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if err := c.StopIngest(); err != nil {
		c.log.Warn("MQTT ingest stop failed during close", "error", err)
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown).WaitTimeout(ackTimeout)
	}

	c.paho.Disconnect(quiesceMillis)
	c.online.Store(false)
	return nil
}
