package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Reads need an authenticated caller; every mutation and the audit trail
// additionally need the super role.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, CodeDataNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, CodeOperationFailed, "method not allowed", nil)
	})

	// Public
	r.Get("/health", s.handleHealth)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/register", s.handleRegister)

	// WebSocket (auth via ticket, validated in handler)
	r.Get("/ws", s.handleWebSocket)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/user/detail", s.handleUserDetail)
		r.Get("/async-routes", s.handleAsyncRoutes)
		r.Post("/auth/ws-ticket", s.handleWSTicket)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Get("/{id}", s.handleGetUser)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSuper)
				r.Post("/", s.handleCreateUser)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Put("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", s.handleListRoles)
			r.Get("/{id}", s.handleGetRole)
			r.Get("/{id}/menus", s.handleGetRoleMenus)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSuper)
				r.Post("/", s.handleCreateRole)
				r.Patch("/{id}", s.handleUpdateRole)
				r.Put("/{id}", s.handleUpdateRole)
				r.Delete("/{id}", s.handleDeleteRole)
				r.Put("/{id}/menus", s.handleSetRoleMenus)
			})
		})

		r.Route("/menus", func(r chi.Router) {
			r.Get("/", s.handleListMenus)
			r.Get("/{id}", s.handleGetMenu)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSuper)
				r.Post("/", s.handleCreateMenu)
				r.Patch("/{id}", s.handleUpdateMenu)
				r.Put("/{id}", s.handleUpdateMenu)
				r.Delete("/{id}", s.handleDeleteMenu)
			})
		})

		r.With(s.requireSuper).Get("/audit-logs", s.handleListAuditLogs)
	})

	return r
}

// handleHealth reports database reachability, schema version and the state
// of the optional event publisher.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.logger.Warn("health check: database unavailable", "error", err)
		writeFailure(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "database unavailable", nil)
		return
	}

	schema, err := s.db.SchemaVersion(r.Context())
	if err != nil {
		s.logger.Warn("health check: reading schema version", "error", err)
		schema = -1
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          s.version,
		"schemaVersion":    schema,
		"mqtt":             s.publisherStatus(r.Context()),
		"websocketClients": s.hub.ClientCount(),
	})
}

// publisherStatus asks the publisher for its health when it can report one.
func (s *Server) publisherStatus(ctx context.Context) string {
	if s.events == nil {
		return "disabled"
	}
	if c, ok := s.events.(interface{ HealthCheck(context.Context) error }); ok {
		if err := c.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check: event publisher unavailable", "error", err)
			return "disconnected"
		}
	}
	return "connected"
}
