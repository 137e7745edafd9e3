package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/sensord/internal/relay"
)

type fakeBackend struct{ connected atomic.Bool }

func (f *fakeBackend) IsConnected() bool { return f.connected.Load() }

type fakeRelay struct{ stats relay.Stats }

func (f fakeRelay) Stats() relay.Stats { return f.stats }

func TestSystemMetrics(t *testing.T) {
	mqttBackend := &fakeBackend{}
	mqttBackend.connected.Store(true)

	srv := testServer(t, func(d *Deps) {
		d.MQTT = mqttBackend
		d.Relay = fakeRelay{stats: relay.Stats{Published: 3}}
	})
	decodeEnvelope(t, do(t, srv, http.MethodPost, "/", `{"temperature":21.5}`))

	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want enabled and connected", m.MQTT)
	}
	if m.InfluxDB.Enabled {
		t.Errorf("influxdb = %+v, want disabled", m.InfluxDB)
	}
	if m.Relay == nil || m.Relay.Published != 3 {
		t.Errorf("relay = %+v, want published=3", m.Relay)
	}
	if m.Reading.Cleared || m.Reading.Current.Temperature == nil || *m.Reading.Current.Temperature != 21.5 {
		t.Errorf("reading = %+v, want temperature 21.5", m.Reading)
	}
	if m.Reading.UpdatedAt == "" {
		t.Error("reading.updated_at is empty after a write")
	}
	if m.WebSocket.PushIntervalSeconds != 0.05 {
		t.Errorf("push_interval_seconds = %v, want 0.05", m.WebSocket.PushIntervalSeconds)
	}
}

func TestSystemMetrics_NoWritesYet(t *testing.T) {
	srv := testServer(t)

	var m SystemMetrics
	if err := json.Unmarshal(do(t, srv, http.MethodGet, "/api/v1/metrics", "").Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.Reading.Cleared || m.Reading.UpdatedAt != "" {
		t.Errorf("reading = %+v, want cleared with no update time", m.Reading)
	}
	if m.Relay != nil {
		t.Errorf("relay = %+v, want omitted", m.Relay)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	backend := &fakeBackend{}
	srv := testServer(t, func(d *Deps) { d.InfluxDB = backend })

	decodeEnvelope(t, do(t, srv, http.MethodPost, "/", `{"temperature":21.5,"light":300}`))
	decodeEnvelope(t, do(t, srv, http.MethodDelete, "/", ""))
	decodeEnvelope(t, do(t, srv, http.MethodPut, "/", `{"light":12}`))

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()

	for _, want := range []string{
		`sensord_store_writes_total{operation="replace"} 2`,
		`sensord_store_writes_total{operation="clear"} 1`,
		`sensord_light_level 12`,
		`sensord_temperature_celsius NaN`,
		`sensord_feed_listeners 0`,
		`sensord_influxdb_connected 0`,
		`sensord_http_requests_total{code="200",method="POST"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, "sensord_mqtt_connected") {
		t.Error("mqtt gauge registered without an MQTT client")
	}
}
