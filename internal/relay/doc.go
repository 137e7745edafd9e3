// Package relay mirrors the sensor reading to external systems.
//
// A Relay observes the sensor.Store and, for every change, publishes the
// new reading as the sensor's retained MQTT state and records it in
// InfluxDB. With an Ingester it also feeds readings pushed by the physical
// sensor into the store.
//
// Exports are asynchronous: the store observer only enqueues, and a single
// worker goroutine performs the network calls in mutation order. When the
// queue is full the change is dropped with a warning; the next change
// carries the full reading, so nothing downstream is left inconsistent
// for long.
//
//	r, err := relay.New(store, relay.Options{
//	    Publisher: mqttClient,
//	    Ingester:  mqttClient,
//	    Recorder:  influxClient,
//	    Logger:    log,
//	})
//	if err := r.Start(ctx); err != nil { ... }
//	defer r.Close()
package relay
