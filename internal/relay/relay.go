package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sensord/internal/sensor"
)

const defaultQueueSize = 64

// Publisher publishes the retained state of the sensor.
type Publisher interface {
	PublishState(payload []byte) error
}

// Ingester delivers readings pushed by the physical sensor. After
// StopIngest returns the handler is never called again.
type Ingester interface {
	StartIngest(handle func(payload []byte) error) error
	StopIngest() error
}

// Recorder stores the reading history.
type Recorder interface {
	RecordReading(reading sensor.Reading, at time.Time)
}

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay. Publisher, Ingester and Recorder are each
// optional; a nil field disables that path.
type Options struct {
	Publisher Publisher
	Ingester  Ingester
	Recorder  Recorder
	QueueSize int // default 64
	Logger    Logger
}

// Stats counts relay activity since start.
type Stats struct {
	Published      uint64 `json:"published"`
	PublishErrors  uint64 `json:"publish_errors"`
	Recorded       uint64 `json:"recorded"`
	Dropped        uint64 `json:"dropped"`
	Ingested       uint64 `json:"ingested"`
	IngestRejected uint64 `json:"ingest_rejected"`
}

// Relay forwards store changes to MQTT and InfluxDB.
//
// Thread Safety: All methods are safe for concurrent use.
type Relay struct {
	store  *sensor.Store
	opts   Options
	logger Logger

	queue   chan sensor.Change
	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	published      atomic.Uint64
	publishErrors  atomic.Uint64
	recorded       atomic.Uint64
	dropped        atomic.Uint64
	ingested       atomic.Uint64
	ingestRejected atomic.Uint64
}

// New creates a relay for store. It does nothing until Start is called.
//
// Parameters:
//   - store: the reading to mirror and, with an Ingester, to feed
//   - opts: export targets, ingest source, queue size and logger
//
// Returns:
//   - *Relay: relay ready to Start
//   - error: if store is nil
func New(store *sensor.Store, opts Options) (*Relay, error) {
	if store == nil {
		return nil, errors.New("relay: store is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Relay{
		store:  store,
		opts:   opts,
		logger: logger,
		queue:  make(chan sensor.Change, opts.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Start starts ingest when an Ingester is configured, registers the store
// observer, and launches the export worker.
//
// The current reading is exported once on start so the retained state
// reflects the store even before the first write.
//
// Parameters:
//   - ctx: cancelling it stops the worker after the queue drains
//
// Returns:
//   - error: if already started or ingest cannot be started
func (r *Relay) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("relay: already started")
	}

	if r.opts.Ingester != nil {
		if err := r.opts.Ingester.StartIngest(r.handleIngest); err != nil {
			r.started.Store(false)
			return fmt.Errorf("relay: starting ingest: %w", err)
		}
		r.logger.Info("relay ingest started")
	}

	var workerCtx context.Context
	workerCtx, r.cancel = context.WithCancel(ctx)

	r.store.OnChange(r.enqueue)
	r.enqueue(sensor.Change{Op: sensor.OpReplace, Reading: r.store.Get(), At: time.Now()})

	go r.run(workerCtx)
	return nil
}

// Close stops ingest first, so no ingested reading reaches the store
// afterwards, then stops the worker once queued changes are exported.
//
// Returns:
//   - error: the Ingester's StopIngest error, if any; the worker is stopped
//     regardless
func (r *Relay) Close() error {
	if !r.started.Load() {
		return nil
	}

	var err error
	r.once.Do(func() {
		if r.opts.Ingester != nil {
			if stopErr := r.opts.Ingester.StopIngest(); stopErr != nil {
				err = fmt.Errorf("relay: stopping ingest: %w", stopErr)
			}
		}
		r.stopped.Store(true)
		r.cancel()
		<-r.done
	})
	return err
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published:      r.published.Load(),
		PublishErrors:  r.publishErrors.Load(),
		Recorded:       r.recorded.Load(),
		Dropped:        r.dropped.Load(),
		Ingested:       r.ingested.Load(),
		IngestRejected: r.ingestRejected.Load(),
	}
}

// enqueue is the store observer. It never blocks.
func (r *Relay) enqueue(c sensor.Change) {
	if r.stopped.Load() {
		return
	}
	select {
	case r.queue <- c:
	default:
		r.dropped.Add(1)
		r.logger.Warn("relay queue full, dropping change",
			"op", string(c.Op),
			"reading", c.Reading.String(),
		)
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case c := <-r.queue:
			r.export(c)
		case <-ctx.Done():
			for {
				select {
				case c := <-r.queue:
					r.export(c)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) export(c sensor.Change) {
	if r.opts.Publisher != nil {
		r.publish(c)
	}
	if r.opts.Recorder != nil {
		r.record(c)
	}
}

func (r *Relay) publish(c sensor.Change) {
	payload, err := json.Marshal(c.Reading)
	if err != nil {
		r.logger.Error("relay marshal failed", "error", err)
		return
	}

	if err := r.opts.Publisher.PublishState(payload); err != nil {
		r.publishErrors.Add(1)
		r.logger.Warn("relay publish failed", "op", string(c.Op), "error", err)
		return
	}
	r.published.Add(1)
	r.logger.Debug("relay published state", "reading", c.Reading.String())
}

func (r *Relay) record(c sensor.Change) {
	r.opts.Recorder.RecordReading(c.Reading, c.At)
	r.recorded.Add(1)
}

// handleIngest replaces the stored reading with a payload received from
// the physical sensor. Invalid payloads are rejected without touching the
// store.
func (r *Relay) handleIngest(payload []byte) error {
	reading, err := sensor.Decode(payload)
	if err != nil {
		r.ingestRejected.Add(1)
		return fmt.Errorf("relay ingest: %w", err)
	}

	r.store.Replace(reading)
	r.ingested.Add(1)
	r.logger.Debug("relay ingested reading", "reading", reading.String())
	return nil
}
