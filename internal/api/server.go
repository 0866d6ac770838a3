// Package api provides the HTTP REST API and WebSocket server for the
// wavemeter daemon.
//
// It exposes measurement snapshots, lock control, autocalibration and
// profile management to lab clients (control GUIs, notebooks, monitoring
// scripts).
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	"github.com/QUEST-EQM/wavemeter/internal/command"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/config"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/database"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/logging"
	"github.com/QUEST-EQM/wavemeter/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Dispatcher  *command.Dispatcher
	Broadcaster *broadcast.Broadcaster
	Profiles    store.ProfileRepository // optional; profile endpoints 404 without it
	CalLog      store.CalibrationLog    // optional; history endpoint 404s without it
	DB          *database.DB            // optional; used for health reporting only
	Version     string
}

// Server is the HTTP API server for the wavemeter daemon.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	dispatcher  *command.Dispatcher
	broadcaster *broadcast.Broadcaster
	profiles    store.ProfileRepository
	callog      store.CalibrationLog
	db          *database.DB
	version     string
	started     time.Time
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, dispatcher, broadcaster)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		dispatcher:  deps.Dispatcher,
		broadcaster: deps.Broadcaster,
		profiles:    deps.Profiles,
		callog:      deps.CalLog,
		db:          deps.DB,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the broadcaster for the
// real-time stream, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.started = time.Now()

	s.hub = NewHub(s.wsCfg, s.logger)
	// Snapshot burst on measurement subscribe, so a new client starts from
	// current state before the live stream.
	s.hub.onSubscribe = s.sendSnapshotBurst
	go s.hub.Run(srvCtx)

	// Relay broadcast events to WebSocket subscribers.
	go s.relayMeasurements(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayMeasurements drains a broadcast subscription into the WebSocket hub.
// New WebSocket subscribers get their snapshot burst from the hub handler;
// this path carries the live stream only.
func (s *Server) relayMeasurements(ctx context.Context) {
	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.hub.Broadcast(wsChannelMeasurements, measurementEvent(ev))
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
