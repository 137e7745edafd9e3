package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensord/internal/sensor"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockMQTT captures state publishes and the ingest handler.
type mockMQTT struct {
	mu        sync.Mutex
	payloads  [][]byte
	handle    func(payload []byte) error
	stops     int
	failPub   bool
	failStart bool
	failStop  bool
	blockPub  chan struct{}
}

func (m *mockMQTT) PublishState(payload []byte) error {
	m.mu.Lock()
	block := m.blockPub
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPub {
		return errors.New("broker unavailable")
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockMQTT) StartIngest(handle func(payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStart {
		return errors.New("subscribe refused")
	}
	m.handle = handle
	return nil
}

func (m *mockMQTT) StopIngest() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.handle = nil
	if m.failStop {
		return errors.New("unsubscribe timed out")
	}
	return nil
}

func (m *mockMQTT) getPayloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([][]byte, len(m.payloads))
	copy(cpy, m.payloads)
	return cpy
}

// deliver passes payload to the ingest handler. It reports false when
// ingest is not running, as the broker client drops such messages.
func (m *mockMQTT) deliver(payload []byte) (bool, error) {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()
	if handle == nil {
		return false, nil
	}
	return true, handle(payload)
}

type point struct {
	Reading sensor.Reading
	At      time.Time
}

// mockRecorder captures recorded readings.
type mockRecorder struct {
	mu     sync.Mutex
	points []point
}

func (m *mockRecorder) RecordReading(reading sensor.Reading, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point{Reading: reading, At: at})
}

func (m *mockRecorder) getPoints() []point {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]point, len(m.points))
	copy(cpy, m.points)
	return cpy
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func startRelay(t *testing.T, store *sensor.Store, opts Options) *Relay {
	t.Helper()
	r, err := New(store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodePayload(t *testing.T, payload []byte) sensor.Reading {
	t.Helper()
	var r sensor.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		t.Fatalf("payload %q: %v", payload, err)
	}
	return r
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("New(nil store) should fail")
	}
	r, err := New(sensor.NewStore(), Options{})
	if err != nil {
		t.Fatalf("New without targets: %v", err)
	}
	if cap(r.queue) != defaultQueueSize {
		t.Errorf("queue size = %d, want %d", cap(r.queue), defaultQueueSize)
	}
}

func TestRelay_PublishesRetainedState(t *testing.T) {
	store := sensor.NewStore()
	pub := &mockMQTT{}
	startRelay(t, store, Options{Publisher: pub})

	store.Replace(sensor.Reading{Temperature: sensor.Float64(21.5), Light: sensor.Int64(300)})
	store.Clear()

	// Initial state on start, then the two mutations.
	waitFor(t, "three publishes", func() bool { return len(pub.getPayloads()) == 3 })

	payloads := pub.getPayloads()
	if got := decodePayload(t, payloads[0]); !got.IsCleared() {
		t.Errorf("initial publish = %v, want cleared", got)
	}
	want := sensor.Reading{Temperature: sensor.Float64(21.5), Light: sensor.Int64(300)}
	if got := decodePayload(t, payloads[1]); !got.Equal(want) {
		t.Errorf("second publish = %v, want %v", got, want)
	}
	if got := decodePayload(t, payloads[2]); !got.IsCleared() {
		t.Errorf("third publish = %v, want cleared", got)
	}
}

func TestRelay_RecordsReadings(t *testing.T) {
	store := sensor.NewStore()
	rec := &mockRecorder{}
	r := startRelay(t, store, Options{Recorder: rec})

	want := store.Replace(sensor.Reading{Temperature: sensor.Float64(19)})

	waitFor(t, "two points", func() bool { return len(rec.getPoints()) == 2 })

	pts := rec.getPoints()
	if !pts[0].Reading.IsCleared() {
		t.Errorf("initial point = %v, want cleared", pts[0].Reading)
	}
	if !pts[1].Reading.Equal(want) {
		t.Errorf("point = %v, want %v", pts[1].Reading, want)
	}
	if !pts[1].At.Equal(store.UpdatedAt()) {
		t.Errorf("point time = %v, want store update time %v", pts[1].At, store.UpdatedAt())
	}
	waitFor(t, "recorded count", func() bool { return r.Stats().Recorded == 2 })
}

func TestRelay_PublishErrorIsCounted(t *testing.T) {
	store := sensor.NewStore()
	pub := &mockMQTT{}
	pub.failPub = true
	r := startRelay(t, store, Options{Publisher: pub})

	got := store.Replace(sensor.Reading{Light: sensor.Int64(5)})
	if *got.Light != 5 {
		t.Fatalf("Replace returned %v", got)
	}

	waitFor(t, "publish errors", func() bool { return r.Stats().PublishErrors == 2 })
	if r.Stats().Published != 0 {
		t.Errorf("Published = %d, want 0", r.Stats().Published)
	}
}

func TestRelay_DropsWhenQueueFull(t *testing.T) {
	store := sensor.NewStore()
	pub := &mockMQTT{}
	pub.blockPub = make(chan struct{})
	r := startRelay(t, store, Options{Publisher: pub, QueueSize: 1})

	// The worker is stuck on the initial publish; one change fits in the
	// queue and the rest are dropped without blocking the writer.
	done := make(chan struct{})
	go func() {
		for i := range 10 {
			store.Replace(sensor.Reading{Light: sensor.Int64(int64(i))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("store writes blocked on a full relay queue")
	}

	if r.Stats().Dropped == 0 {
		t.Error("expected dropped changes")
	}

	pub.mu.Lock()
	close(pub.blockPub)
	pub.blockPub = nil
	pub.mu.Unlock()
}

func TestRelay_Ingest(t *testing.T) {
	store := sensor.NewStore()
	ing := &mockMQTT{}
	r := startRelay(t, store, Options{Ingester: ing})

	ok, err := ing.deliver([]byte(`{"temperature":18.5,"light":120}`))
	if !ok || err != nil {
		t.Fatalf("valid ingest: delivered = %v, error = %v", ok, err)
	}

	want := sensor.Reading{Temperature: sensor.Float64(18.5), Light: sensor.Int64(120)}
	if got := store.Get(); !got.Equal(want) {
		t.Errorf("store after ingest = %v, want %v", got, want)
	}

	_, err = ing.deliver([]byte(`{"light":"bright"}`))
	if !errors.Is(err, sensor.ErrInvalidReading) {
		t.Errorf("invalid ingest error = %v, want ErrInvalidReading", err)
	}
	if got := store.Get(); !got.Equal(want) {
		t.Errorf("invalid ingest changed store to %v", got)
	}

	stats := r.Stats()
	if stats.Ingested != 1 || stats.IngestRejected != 1 {
		t.Errorf("stats = %+v, want 1 ingested and 1 rejected", stats)
	}
}

func TestRelay_CloseStopsIngest(t *testing.T) {
	store := sensor.NewStore()
	ing := &mockMQTT{}
	r, err := New(store, Options{Ingester: ing})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ing.stops != 1 {
		t.Errorf("StopIngest calls = %d, want 1", ing.stops)
	}

	ok, _ := ing.deliver([]byte(`{"light":99}`))
	if ok {
		t.Error("ingest handler still installed after Close")
	}
	if got := store.Get(); !got.IsCleared() {
		t.Errorf("store after Close = %v, want cleared", got)
	}

	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if ing.stops != 1 {
		t.Errorf("StopIngest calls after second Close = %d, want 1", ing.stops)
	}
}

func TestRelay_CloseReportsStopFailure(t *testing.T) {
	ing := &mockMQTT{failStop: true}
	r := startRelay(t, sensor.NewStore(), Options{Ingester: ing})

	if err := r.Close(); err == nil {
		t.Error("Close should report the ingest stop failure")
	}
}

func TestRelay_StartIngestFailure(t *testing.T) {
	ing := &mockMQTT{failStart: true}

	r, err := New(sensor.NewStore(), Options{Ingester: ing})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when ingest cannot start")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close after failed Start: %v", err)
	}
}
func TestRelay_CloseDrainsQueue(t *testing.T) {
	store := sensor.NewStore()
	rec := &mockRecorder{}
	r, err := New(store, Options{Recorder: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store.Replace(sensor.Reading{Temperature: sensor.Float64(1)})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := len(rec.getPoints()); n != 2 {
		t.Errorf("points after Close = %d, want 2", n)
	}

	// Changes after Close are ignored.
	store.Clear()
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.getPoints()); n != 2 {
		t.Errorf("points after post-Close write = %d, want 2", n)
	}
}
