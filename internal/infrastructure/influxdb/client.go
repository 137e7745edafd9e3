package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/sensord/internal/infrastructure/config"
	"github.com/nerrad567/sensord/internal/sensor"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes the reading history of one sensor.
//
// Thread Safety: All methods are safe for concurrent use. RecordReading
// never blocks on the network.
type Client struct {
	influx   influxdb2.Client
	writer   api.WriteAPI
	sensorID string
	url      string

	closed atomic.Bool

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect pings the server and opens a batched writer for cfg.Bucket.
//
// Parameters:
//   - ctx: bounds the initial ping (capped at 10 seconds)
//   - cfg: InfluxDB configuration; Enabled must be true
//   - sensorID: value of the sensor_id tag on every point
//
// Returns:
//   - *Client: ready to record readings
//   - error: ErrDisabled, ErrNoSensorID, or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig, sensorID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if sensorID == "" {
		return nil, ErrNoSensorID
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx:   influx,
		writer:   influx.WriteAPI(cfg.Org, cfg.Bucket),
		sensorID: sensorID,
		url:      cfg.URL,
	}
	go c.forwardErrors(c.writer.Errors())
	return c, nil
}

// writeOptions sizes the write batches. Points carry millisecond timestamps,
// which is finer than any sensor sends readings.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                   // #nosec G115 -- positive
		SetFlushInterval(uint(flush.Milliseconds())). // #nosec G115 -- positive
		SetPrecision(time.Millisecond).
		SetLogLevel(0)
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server not ready")
	}
	return nil
}

// forwardErrors delivers batch write failures to the error callback until
// the writer is closed.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.errMu.RLock()
		callback := c.onError
		c.errMu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// RecordReading queues a point for reading observed at at. It is a no-op
// after Close.
//
// The write is batched and never blocks; failures surface later through
// the SetOnError callback.
//
// Parameters:
//   - reading: the reading to record; a cleared reading writes cleared=true
//   - at: the point timestamp, stored at millisecond precision
func (c *Client) RecordReading(reading sensor.Reading, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(readingPoint(c.sensorID, reading, at))
}

// SetOnError installs the callback for failed batch writes.
func (c *Client) SetOnError(callback func(err error)) {
	c.errMu.Lock()
	c.onError = callback
	c.errMu.Unlock()
}

// Flush sends queued points now. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writer.Flush()
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Context for cancellation (the ping is capped at 5 seconds)
//
// Returns:
//   - error: ErrNotConnected after Close, or the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check %s: %w", c.url, err)
	}
	return nil
}

// IsConnected reports whether the client is open. Safe on a nil client.
func (c *Client) IsConnected() bool {
	return c != nil && c.influx != nil && !c.closed.Load()
}

// Close flushes queued points and releases the client. Later calls are no-ops.
func (c *Client) Close() error {
	if c.influx == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.influx.Close()
	return nil
}
