// Package mqtt connects one sensor to an MQTT broker.
//
// A Client is scoped to a single sensor ID and owns three topics:
//
//	sensord/state/{sensor_id}    retained current reading, see PublishState
//	sensord/ingest/{sensor_id}   readings pushed by the physical sensor, see StartIngest
//	sensord/status/{sensor_id}   retained online/offline status and last will
//
// The session auto-reconnects with backoff. It is a clean session, so the
// client itself re-subscribes to ingest after every reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Sensor.ID, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishState(payload)
//	err = client.StartIngest(func(payload []byte) error {
//	    reading, err := sensor.Decode(payload)
//	    ...
//	})
package mqtt
