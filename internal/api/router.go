package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the REST router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		r.Route("/agent", func(r chi.Router) {
			// Device registration exchanges a pairing code for
			// credentials, so it carries no auth of its own.
			r.Post("/register", s.handleRegister)

			// Agent endpoints (device token)
			r.Group(func(r chi.Router) {
				r.Use(s.deviceAuthMiddleware)

				r.Get("/poll", s.handlePoll)
				r.Post("/report", s.handleReport)
				r.Post("/heartbeat", s.handleHeartbeat)
			})

			// User endpoints (JWT session)
			r.Group(func(r chi.Router) {
				r.Use(s.userAuthMiddleware)

				r.Post("/generate-pairing-code", s.handleGeneratePairingCode)
				r.Post("/queue-task", s.handleQueueTask)
				r.Post("/automation", s.handleAutomation)
				r.Get("/devices", s.handleListDevices)
				r.Get("/audit", s.handleListAudit)
			})
		})
	})

	return r
}

// buildAgentRouter creates the router for the dedicated agent
// WebSocket listener.
func (s *Server) buildAgentRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.recoveryMiddleware)

	path := s.wsCfg.Path
	if path == "" {
		path = "/ws"
	}
	r.Get(path, s.handleAgentWS)

	return r
}

// handleHealth returns per-component health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"api": "ok",
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			components["database"] = "error"
		} else {
			components["database"] = "ok"
		}
	}

	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			components["mqtt"] = "ok"
		} else {
			components["mqtt"] = "disconnected"
		}
	} else {
		components["mqtt"] = "disabled"
	}

	if s.telemetry != nil {
		if s.telemetry.IsConnected() {
			components["influxdb"] = "ok"
		} else {
			components["influxdb"] = "disconnected"
		}
	} else {
		components["influxdb"] = "disabled"
	}

	status := "ok"
	for _, state := range components {
		if state == "error" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
