// Package sensor holds the single current sensor reading for sensord.
//
// A Reading carries an optional temperature and an optional light level.
// A reading with both values absent is the cleared state; it is a valid
// value, not an error, and it's what the Store holds at process start.
//
// The Store is the only owner of the current reading. Every write replaces
// the reading wholesale (absent fields overwrite present ones), and every
// read returns a copy, so callers can never mutate stored state.
//
// # Change observers
//
// Components that mirror the reading elsewhere (MQTT, InfluxDB, metrics)
// register with Store.OnChange. Observers run synchronously after each
// mutation, in mutation order, outside the read lock. They must be quick and
// must not call Replace or Clear.
//
// Thread Safety: All Store methods are safe for concurrent use.
package sensor
