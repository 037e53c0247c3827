package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/auth"
	"github.com/rmcgann/agentlink-core/internal/automation"
	"github.com/rmcgann/agentlink-core/internal/dispatch"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/config"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/database"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/influxdb"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/logging"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/mqtt"
	"github.com/rmcgann/agentlink-core/internal/presence"
	"github.com/rmcgann/agentlink-core/internal/registry"
	"github.com/rmcgann/agentlink-core/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	AgentWS    config.AgentWSConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *registry.Registry
	Presence   *presence.Tracker
	Hub        *transport.Hub
	Dispatcher *dispatch.Dispatcher
	AutoRouter *automation.Router
	AuditLog   *audit.Log
	Users      auth.UserRepository
	DB         *database.DB     // optional: health reporting
	MQTT       *mqtt.Client     // optional: health reporting
	Telemetry  *influxdb.Client // optional: heartbeat telemetry + health
	Version    string
}

// Server runs the REST API and the agent WebSocket listener.
//
// Both listeners share one lifecycle: Start brings them up together and
// Close shuts them down together.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.AgentWSConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *registry.Registry
	presence   *presence.Tracker
	hub        *transport.Hub
	dispatcher *dispatch.Dispatcher
	autoRouter *automation.Router
	auditLog   *audit.Log
	users      auth.UserRepository
	db         *database.DB
	mqtt       *mqtt.Client
	telemetry  *influxdb.Client
	version    string

	restServer  *http.Server
	agentServer *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Presence == nil {
		return nil, fmt.Errorf("presence tracker is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("transport hub is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.AuditLog == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	// MQTT and InfluxDB are optional; health reports them as disabled.

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.AgentWS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		presence:   deps.Presence,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		autoRouter: deps.AutoRouter,
		auditLog:   deps.AuditLog,
		users:      deps.Users,
		db:         deps.DB,
		mqtt:       deps.MQTT,
		telemetry:  deps.Telemetry,
		version:    deps.Version,
	}, nil
}

// Start begins listening on both ports.
//
// The REST listener serves /api/v1; the agent listener serves the
// WebSocket upgrade endpoint on its own port. Both run in background
// goroutines and are stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.restServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.agentServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.wsCfg.Host, s.wsCfg.Port),
		Handler:           s.buildAgentRouter(),
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
	}

	go s.serve(s.restServer, "api")
	go s.serve(s.agentServer, "agent_ws")

	return nil
}

// serve runs a listener until it stops, logging any unexpected exit.
func (s *Server) serve(srv *http.Server, name string) {
	var err error
	if name == "api" && s.cfg.TLS.Enabled {
		s.logger.Info("server starting with TLS",
			"listener", name,
			"address", srv.Addr,
			"cert", s.cfg.TLS.CertFile,
		)
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		s.logger.Info("server starting", "listener", name, "address", srv.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", "listener", name, "error", err)
	}
}

// Close gracefully shuts down both listeners.
//
// It waits up to 10 seconds for in-flight requests to complete, closes
// every live agent session, then forcefully closes what remains.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")

	var errs []error
	if s.agentServer != nil {
		s.hub.CloseAll()
		if err := s.agentServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down agent listener: %w", err))
		}
	}
	if s.restServer != nil {
		if err := s.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down API listener: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.restServer == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
