package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensord/internal/infrastructure/config"
	"github.com/nerrad567/sensord/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensord/internal/sensor"
)

// fakeInflux is a minimal InfluxDB v2 HTTP endpoint. It answers /ping and
// records the bodies of /api/v2/write requests.
type fakeInflux struct {
	mu        sync.Mutex
	writes    []string
	precision string
	fail      bool
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		fail := f.fail
		f.precision = r.URL.Query().Get("precision")
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line protocol"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, body := range f.writes {
		for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
			if line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

func newFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "sensord",
		Bucket:        "telemetry",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// connect opens a client for the attic sensor against cfg.
func connect(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), cfg, "attic")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnect_Rejected(t *testing.T) {
	_, cfg := newFake(t)

	tests := []struct {
		name     string
		cfg      config.InfluxDBConfig
		sensorID string
		want     error
	}{
		{"disabled", config.InfluxDBConfig{Enabled: false}, "attic", influxdb.ErrDisabled},
		{"no sensor id", cfg, "", influxdb.ErrNoSensorID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := influxdb.Connect(context.Background(), tt.cfg, tt.sensorID)
			if !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
			if client != nil {
				t.Error("Connect() returned a client")
			}
		})
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     url,
		Org:     "sensord",
		Bucket:  "telemetry",
	}, "attic")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	_, cfg := newFake(t)
	client := connect(t, cfg)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRecordReading(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	tests := []struct {
		name    string
		reading sensor.Reading
		want    []string
		absent  []string
	}{
		{
			name:    "both values",
			reading: sensor.Reading{Temperature: sensor.Float64(21.5), Light: sensor.Int64(300)},
			want:    []string{"sensor_reading,sensor_id=attic ", "temperature=21.5", "light=300i", " 1700000000123"},
			absent:  []string{"cleared"},
		},
		{
			name:    "light only",
			reading: sensor.Reading{Light: sensor.Int64(7)},
			want:    []string{"light=7i"},
			absent:  []string{"temperature", "cleared"},
		},
		{
			name:    "cleared",
			reading: sensor.Cleared(),
			want:    []string{"sensor_reading,sensor_id=attic cleared=true"},
			absent:  []string{"temperature", "light"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, cfg := newFake(t)
			client := connect(t, cfg)

			client.RecordReading(tt.reading, at)
			client.Flush()
			waitFor(t, func() bool { return len(fake.lines()) > 0 })

			line := fake.lines()[0]
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
			for _, field := range tt.absent {
				if strings.Contains(line, field) {
					t.Errorf("line %q should not contain %q", line, field)
				}
			}

			fake.mu.Lock()
			precision := fake.precision
			fake.mu.Unlock()
			if precision != "ms" {
				t.Errorf("write precision = %q, want ms", precision)
			}
		})
	}
}

func TestWriteErrorCallback(t *testing.T) {
	fake, cfg := newFake(t)
	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()
	client := connect(t, cfg)

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.RecordReading(sensor.Cleared(), time.Now())
	client.Flush()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("error callback received nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error callback not invoked")
	}
}

func TestClosedClient(t *testing.T) {
	fake, cfg := newFake(t)

	client, err := influxdb.Connect(context.Background(), cfg, "attic")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	client.RecordReading(sensor.Reading{Temperature: sensor.Float64(1)}, time.Now())
	client.Flush()
	if n := len(fake.lines()); n != 0 {
		t.Errorf("lines written after Close = %d, want 0", n)
	}

	var nilClient *influxdb.Client
	if nilClient.IsConnected() {
		t.Error("nil client reports connected")
	}
}
