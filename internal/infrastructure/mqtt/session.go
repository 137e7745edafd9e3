package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sensord/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 60 * time.Second

	// quiesceMillis gives in-flight work time to finish on disconnect.
	quiesceMillis = 500

	// maxStatePayload caps state messages at 1 MiB.
	maxStatePayload = 1 << 20
)

// brokerURL picks ssl:// when TLS is enabled and tcp:// otherwise.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// sessionOptions builds the paho options for one sensor's session.
//
// The session is clean: the broker keeps nothing for us between
// connections, so the ingest subscription is re-established by the client
// on every connect. The will marks the sensor offline when the connection
// drops without a graceful Close.
func (c *Client) sessionOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(c.clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(StatusTopic(c.sensorID), c.statusPayload(statusOffline, reasonConnectionLost), c.qos, true).
		SetOnConnectHandler(func(pahomqtt.Client) { c.onSessionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onSessionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log.Info("MQTT reconnecting", "sensor_id", c.sensorID)
		})

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// onSessionUp runs on the first connect and on every reconnect.
func (c *Client) onSessionUp() {
	c.online.Store(true)
	c.publishStatus(statusOnline, "")

	if c.ingesting() {
		if err := c.subscribeIngest(); err != nil {
			c.log.Error("MQTT ingest resubscribe failed", "topic", IngestTopic(c.sensorID), "error", err)
		}
	}
	c.log.Info("MQTT session up", "sensor_id", c.sensorID, "client_id", c.clientID)
}

func (c *Client) onSessionLost(err error) {
	c.online.Store(false)
	c.log.Warn("MQTT connection lost", "sensor_id", c.sensorID, "error", err)
}
