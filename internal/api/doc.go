// Package api implements the HTTP API and live feed for sensord.
//
// This package provides:
//   - Accessor endpoints for the single sensor reading (GET, POST, PUT, DELETE on /)
//   - A WebSocket live feed that pushes the current reading on a fixed interval
//   - Health, JSON system metrics, and Prometheus metrics endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, rate limit)
//   - TLS support for production deployments
//
// # Responses
//
// Accessor endpoints always answer 200 with an envelope:
//
//	{"error": false, "message": "Fetched sensor data", "data": {"temperature": 21.5, "light": null}}
//
// Failures use the structured error shape:
//
//	{"error": true, "status": 422, "code": "validation_error", "message": "..."}
//
// # Live Feed
//
// Each WebSocket connection runs its own push loop: read the store, send,
// wait the push interval, repeat. The loop ends when a send fails or the
// peer goes away; other connections are unaffected.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB. Their state only appears
// in the metrics endpoints.
package api
