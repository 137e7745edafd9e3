// sensord - single-reading sensor service
//
// sensord holds one temperature/light reading in memory, exposes it through
// CRUD-style HTTP endpoints, and pushes it once per interval to every
// connected WebSocket listener. Optionally it mirrors each change to MQTT and
// InfluxDB and accepts readings from a physical sensor over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/sensord/internal/api"
	"github.com/nerrad567/sensord/internal/infrastructure/config"
	"github.com/nerrad567/sensord/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensord/internal/infrastructure/logging"
	"github.com/nerrad567/sensord/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensord/internal/relay"
	"github.com/nerrad567/sensord/internal/sensor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sensord",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadDotEnv(".env"); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath, explicit := getConfigPath()
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "sensor_id", cfg.Sensor.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	store := sensor.NewStore()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, cfg.Sensor.ID, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Sensor.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Store:    store,
		Version:  version,
	}

	// Relay store changes to MQTT and InfluxDB
	rel, err := startRelay(ctx, cfg, store, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	if rel != nil {
		deps.Relay = rel
		defer func() {
			log.Info("stopping relay")
			if closeErr := rel.Close(); closeErr != nil {
				log.Error("error stopping relay", "error", closeErr)
			}
		}()
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, server, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", server.Addr(),
		"feed_path", cfg.WebSocket.Path,
		"push_interval", cfg.WebSocket.PushInterval.String(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (live feeds first)
	// 2. Relay (drains queued exports)
	// 3. InfluxDB (flushes pending points)
	// 4. MQTT

	log.Info("sensord stopped")
	return nil
}

// getConfigPath returns the configuration file path and whether it was set
// explicitly via SENSORD_CONFIG.
func getConfigPath() (string, bool) {
	if path := os.Getenv("SENSORD_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the configuration file. An explicitly configured path must
// exist; a missing default file falls back to built-in defaults.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		return config.Load(path)
	}
	return config.LoadOrDefault(path)
}

// loadDotEnv loads environment variables from path. A missing file is not an
// error; variables already set in the environment take precedence.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// connectMQTT opens the broker session for sensorID. Session events are
// logged by the client itself.
func connectMQTT(cfg config.MQTTConfig, sensorID string, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg, sensorID, log.With("component", "mqtt"))
	if err != nil {
		return nil, err
	}

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"state_topic", mqtt.StateTopic(sensorID),
	)
	return client, nil
}

// startRelay builds and starts the relay when at least one backend is
// connected. It returns nil when there is nothing to relay to.
func startRelay(ctx context.Context, cfg *config.Config, store *sensor.Store, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*relay.Relay, error) {
	if mqttClient == nil && influxClient == nil {
		return nil, nil
	}

	opts := relay.Options{
		Logger: log.With("component", "relay", "sensor_id", cfg.Sensor.ID),
	}
	if mqttClient != nil {
		opts.Publisher = mqttClient
		if cfg.MQTT.Ingest {
			opts.Ingester = mqttClient
		}
	}
	if influxClient != nil {
		opts.Recorder = influxClient
	}

	rel, err := relay.New(store, opts)
	if err != nil {
		return nil, err
	}
	if err := rel.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("relay started",
		"mqtt", mqttClient != nil,
		"ingest", opts.Ingester != nil,
		"influxdb", influxClient != nil,
	)
	return rel, nil
}

// healthCheck verifies the API server is serving and the optional backend
// connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - server: Started API server
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, server *api.Server, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
