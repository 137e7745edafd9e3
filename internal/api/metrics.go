package api

import (
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/sensord/internal/relay"
	"github.com/nerrad567/sensord/internal/sensor"
)

// serverMetrics holds the Prometheus collectors exposed on /metrics.
// Each Server owns its own registry.
type serverMetrics struct {
	registry *prometheus.Registry

	temperature  prometheus.Gauge
	light        prometheus.Gauge
	storeWrites  *prometheus.CounterVec
	feedPushes   prometheus.Counter
	feedErrors   prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func newServerMetrics(s *Server) *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_temperature_celsius",
			Help: "Current temperature reading (NaN when unknown).",
		}),
		light: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_light_level",
			Help: "Current light level reading (NaN when unknown).",
		}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_store_writes_total",
			Help: "Total store mutations by operation.",
		}, []string{"operation"}),
		feedPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensord_feed_pushes_total",
			Help: "Total live feed messages sent.",
		}),
		feedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensord_feed_errors_total",
			Help: "Total live feed sends that failed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_http_requests_total",
			Help: "Total HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensord_http_request_duration_seconds",
			Help:    "HTTP request durations by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.temperature.Set(math.NaN())
	m.light.Set(math.NaN())

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.temperature,
		m.light,
		m.storeWrites,
		m.feedPushes,
		m.feedErrors,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sensord_feed_listeners",
			Help: "Number of open live feed connections.",
		}, func() float64 { return float64(s.feeds.count()) }),
	)

	if s.mqtt != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sensord_mqtt_connected",
			Help: "1 when the MQTT client is connected.",
		}, connectedGauge(s.mqtt)))
	}
	if s.influx != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sensord_influxdb_connected",
			Help: "1 when the InfluxDB client is connected.",
		}, connectedGauge(s.influx)))
	}

	return m
}

func connectedGauge(c ConnectionReporter) func() float64 {
	return func() float64 {
		if c.IsConnected() {
			return 1
		}
		return 0
	}
}

// observeChange is registered as a store observer.
func (m *serverMetrics) observeChange(c sensor.Change) {
	m.storeWrites.WithLabelValues(string(c.Op)).Inc()

	if c.Reading.Temperature != nil {
		m.temperature.Set(*c.Reading.Temperature)
	} else {
		m.temperature.Set(math.NaN())
	}
	if c.Reading.Light != nil {
		m.light.Set(float64(*c.Reading.Light))
	} else {
		m.light.Set(math.NaN())
	}
}

func (m *serverMetrics) observeRequest(method, code string, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, code).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          BackendMetrics `json:"mqtt"`
	InfluxDB      BackendMetrics `json:"influxdb"`
	Relay         *relay.Stats   `json:"relay,omitempty"`
	Reading       ReadingMetrics `json:"reading"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live feed statistics.
type WSMetrics struct {
	ConnectedClients    int     `json:"connected_clients"`
	PushIntervalSeconds float64 `json:"push_interval_seconds"`
}

// BackendMetrics describes an optional backend connection.
type BackendMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// ReadingMetrics describes the stored reading.
type ReadingMetrics struct {
	Current   sensor.Reading `json:"current"`
	Cleared   bool           `json:"cleared"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	current := s.store.Get()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients:    s.feeds.count(),
			PushIntervalSeconds: s.wsCfg.PushInterval.Seconds(),
		},
		MQTT:     backendMetrics(s.mqtt),
		InfluxDB: backendMetrics(s.influx),
		Reading: ReadingMetrics{
			Current: current,
			Cleared: current.IsCleared(),
		},
	}

	if at := s.store.UpdatedAt(); !at.IsZero() {
		metrics.Reading.UpdatedAt = at.UTC().Format(time.RFC3339Nano)
	}

	if s.relay != nil {
		stats := s.relay.Stats()
		metrics.Relay = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}

func backendMetrics(c ConnectionReporter) BackendMetrics {
	if c == nil {
		return BackendMetrics{}
	}
	return BackendMetrics{Enabled: true, Connected: c.IsConnected()}
}
