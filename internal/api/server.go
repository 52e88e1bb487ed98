package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/rfid-bridge/internal/bridge"
	"github.com/nerrad567/rfid-bridge/internal/fanout"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the part of the bridge core the gateway drives.
// Satisfied by *bridge.Bridge.
type BridgeService interface {
	SubmitTopup(ctx context.Context, uid string, amount float64) (bridge.TopupReceipt, error)
	State() bridge.State
	Stats() bridge.Stats
}

// BusStatus reports bus connectivity for health checks.
// Satisfied by *mqtt.Client.
type BusStatus interface {
	State() mqtt.ConnectionState
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Bridge   BridgeService
	Bus      BusStatus
	Sessions *fanout.Registry
	Version  string
}

// Server is the command gateway: the top-up endpoint, the dashboard
// WebSocket endpoint, and health and metrics.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	bridge    BridgeService
	bus       BusStatus
	sessions  *fanout.Registry
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("bus status is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	wsCfg := deps.WS
	if wsCfg.Path == "" {
		wsCfg.Path = "/ws"
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     wsCfg,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		bus:       deps.Bus,
		sessions:  deps.Sessions,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the server is already started
func (s *Server) Start(_ context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening",
			"address", s.server.Addr,
			"websocket_path", s.wsCfg.Path,
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Dashboard
// sessions are hijacked connections and are closed by the session registry.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
