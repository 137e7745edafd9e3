package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// StartIngest subscribes to the sensor's ingest topic and passes every
// payload to handle. The subscription is restored after reconnects until
// StopIngest or Close.
//
// handle runs on the paho delivery goroutine and must not call StopIngest
// or Close. A returned error is logged as a rejected payload.
//
// Parameters:
//   - handle: receives each raw ingest payload
//
// Returns:
//   - error: ErrNotConnected, ErrIngestActive, or ErrIngestFailed
func (c *Client) StartIngest(handle func(payload []byte) error) error {
	if handle == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrIngestFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.ingestMu.Lock()
	if c.ingest != nil {
		c.ingestMu.Unlock()
		return ErrIngestActive
	}
	c.ingest = handle
	c.ingestMu.Unlock()

	if err := c.subscribeIngest(); err != nil {
		c.setIngest(nil)
		return err
	}
	return nil
}

// StopIngest removes the ingest handler and unsubscribes from the broker.
//
// Once it returns the handler is not running and will not be called again,
// even for messages the broker already sent. Stopping when ingest is not
// running is a no-op.
//
// Returns:
//   - error: ErrIngestFailed if the broker did not acknowledge the
//     unsubscribe; the handler is removed either way
func (c *Client) StopIngest() error {
	if !c.ingesting() {
		return nil
	}
	c.setIngest(nil)

	// Without a session there is nothing to unsubscribe from; the clean
	// session drops the subscription and reconnects no longer restore it.
	if !c.IsConnected() {
		return nil
	}

	topic := IngestTopic(c.sensorID)
	token := c.paho.Unsubscribe(topic)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: unsubscribe %s: no ack within %v", ErrIngestFailed, topic, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", ErrIngestFailed, topic, err)
	}
	return nil
}

func (c *Client) ingesting() bool {
	c.ingestMu.RLock()
	defer c.ingestMu.RUnlock()
	return c.ingest != nil
}

// setIngest swaps the handler. Taking the write lock waits out any handler
// call still in flight.
func (c *Client) setIngest(handle func(payload []byte) error) {
	c.ingestMu.Lock()
	c.ingest = handle
	c.ingestMu.Unlock()
}

func (c *Client) subscribeIngest() error {
	topic := IngestTopic(c.sensorID)
	token := c.paho.Subscribe(topic, c.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliverIngest(msg.Payload())
	})
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: subscribe %s: no ack within %v", ErrIngestFailed, topic, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ErrIngestFailed, topic, err)
	}
	return nil
}

// deliverIngest hands payload to the current handler. Payloads arriving
// after StopIngest are dropped. Handler panics are recovered and logged.
func (c *Client) deliverIngest(payload []byte) {
	c.ingestMu.RLock()
	defer c.ingestMu.RUnlock()

	if c.ingest == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("MQTT ingest handler panic recovered", "sensor_id", c.sensorID, "panic", r)
		}
	}()

	if err := c.ingest(payload); err != nil {
		c.log.Warn("MQTT ingest payload rejected", "sensor_id", c.sensorID, "error", err)
	}
}
