package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nerrad567/sensord/internal/infrastructure/config"
	"github.com/nerrad567/sensord/internal/infrastructure/logging"
	"github.com/nerrad567/sensord/internal/relay"
	"github.com/nerrad567/sensord/internal/sensor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Live feed defaults applied when the configuration leaves them unset.
const (
	defaultFeedPath         = "/ws"
	defaultPushInterval     = time.Second
	defaultFeedWriteTimeout = 10 * time.Second
	defaultMaxMessageSize   = 4096
)

// ConnectionReporter reports whether an optional backend is connected.
// Both the MQTT and InfluxDB clients satisfy it.
type ConnectionReporter interface {
	IsConnected() bool
}

// RelayStatsProvider exposes relay counters for the metrics endpoint.
type RelayStatsProvider interface {
	Stats() relay.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Store    *sensor.Store
	MQTT     ConnectionReporter // optional
	InfluxDB ConnectionReporter // optional
	Relay    RelayStatsProvider // optional
	Version  string
}

// Server is the HTTP API server for sensord.
//
// It manages the HTTP listener, routes, middleware, and live feeds.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	store     *sensor.Store
	mqtt      ConnectionReporter
	influx    ConnectionReporter
	relay     RelayStatsProvider
	version   string
	startTime time.Time

	mu       sync.Mutex // guards server, listener, serveErr, closed
	server   *http.Server
	listener net.Listener
	serveErr error
	closed   bool

	router   http.Handler
	feeds    *feedRegistry
	metrics  *serverMetrics
	limiter  *rate.Limiter // nil when rate limiting is disabled
	upgrader websocket.Upgrader
}

// New creates a new API server with the given dependencies.
//
// The router, metrics, and feed registry are built immediately; the
// listener is not opened until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, store) plus optional backends
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("sensor store is required")
	}

	wsCfg := deps.WS
	if wsCfg.Path == "" {
		wsCfg.Path = defaultFeedPath
	}
	if wsCfg.PushInterval <= 0 {
		wsCfg.PushInterval = defaultPushInterval
	}
	if wsCfg.WriteTimeout <= 0 {
		wsCfg.WriteTimeout = defaultFeedWriteTimeout
	}
	if wsCfg.MaxMessageSize <= 0 {
		wsCfg.MaxMessageSize = defaultMaxMessageSize
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     wsCfg,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		store:     deps.Store,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		relay:     deps.Relay,
		version:   deps.Version,
		startTime: time.Now(),
	}

	s.feeds = newFeedRegistry(s.logger)
	s.metrics = newServerMetrics(s)
	s.store.OnChange(s.metrics.observeChange)

	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves HTTP in a background goroutine.
//
// The address is bound before Start returns, so a port conflict is reported
// to the caller rather than logged later. The server is stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server was already started or the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// Live feeds are closed first since hijacked connections are not tracked by
// http.Server. It then waits up to 10 seconds for in-flight requests to
// complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.feeds.closeAll()

	s.mu.Lock()
	srv := s.server
	s.closed = true
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is serving.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil while serving; otherwise why not (not started, closed,
//     or the serve loop failed)
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.server == nil:
		return fmt.Errorf("api server not started")
	case s.closed:
		return fmt.Errorf("api server closed")
	case s.serveErr != nil:
		return fmt.Errorf("api server failed: %w", s.serveErr)
	}
	return nil
}
