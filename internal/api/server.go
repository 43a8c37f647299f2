package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/auth"
	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
	"github.com/nerrad567/mortal-core/internal/infrastructure/database"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
	"github.com/nerrad567/mortal-core/internal/menu"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// tokenPurgeInterval is how often expired refresh tokens are deleted.
const tokenPurgeInterval = time.Hour

// EventPublisher forwards change events to other services.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishEvent(entity, action string, data any) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	DB       *database.DB
	Auth     *auth.Service
	Menus    *menu.Service
	Audit    audit.Repository // optional: mutations are not recorded without it
	Events   EventPublisher   // optional: leave nil when MQTT is disabled
	Version  string
}

// Server is the HTTP API server for the console.
//
// It manages the HTTP listener, routes, middleware, the WebSocket hub and
// the background loops (audit drain, ticket cleanup, token purge).
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	db        *database.DB
	auth      *auth.Service
	menus     *menu.Service
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	events    EventPublisher
	version   string
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
	bg        sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, database, services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Menus == nil {
		return nil, fmt.Errorf("menu service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		db:        deps.DB,
		auth:      deps.Auth,
		menus:     deps.Menus,
		auditRepo: deps.Audit,
		events:    deps.Events,
		version:   deps.Version,
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the background loops, then launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Parent context for the background loops
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.goBackground(func() { s.hub.Run(srvCtx) })
	s.goBackground(func() { s.cleanTicketsLoop(srvCtx) })
	s.goBackground(func() { s.auth.RunPurgeLoop(srvCtx, tokenPurgeInterval) })
	if s.auditCh != nil {
		s.goBackground(func() { s.drainAuditLog(srvCtx) })
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
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) goBackground(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// Close gracefully shuts down the API server.
//
// It stops the background loops, waits for queued audit entries to be
// written and gives in-flight requests up to 10 seconds to complete.
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
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	s.bg.Wait()

	if err != nil {
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
