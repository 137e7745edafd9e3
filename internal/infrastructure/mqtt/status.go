package mqtt

import (
	"encoding/json"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown       = "shutdown"
	reasonConnectionLost = "connection_lost"
)

// statusMessage is the retained payload on StatusTopic.
type statusMessage struct {
	SensorID string    `json:"sensor_id"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	ClientID string    `json:"client_id"`
	Since    time.Time `json:"since"`
}

func (c *Client) statusPayload(status, reason string) []byte {
	return encodeStatus(statusMessage{
		SensorID: c.sensorID,
		Status:   status,
		Reason:   reason,
		ClientID: c.clientID,
		Since:    time.Now().UTC(),
	})
}

func encodeStatus(m statusMessage) []byte {
	//nolint:errcheck // strings and a time cannot fail to marshal
	data, _ := json.Marshal(m)
	return data
}

// publishStatus sends a retained status update without waiting for the ack.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.paho.Publish(StatusTopic(c.sensorID), c.qos, true, c.statusPayload(status, reason))
}
