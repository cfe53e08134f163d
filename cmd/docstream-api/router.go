// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/docstream/cmd/docstream-api/handlers"
	"github.com/spherical-ai/docstream/cmd/docstream-api/middleware"
	"github.com/spherical-ai/docstream/internal/config"
	"github.com/spherical-ai/docstream/internal/events"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/tasks"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, orchestrator *tasks.Orchestrator, bus *events.Bus) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	// Health check (unauthenticated)
	r.With(middleware.SecurityHeaders).Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"docstream"}`))
	})

	taskHandler := handlers.NewTaskHandler(logger, orchestrator, cfg.Server.MaxUploadBytes)
	dataHandler := handlers.NewDataHandler(logger, orchestrator)
	streamHandler := handlers.NewStreamHandler(logger, orchestrator, bus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			APIKey:  cfg.Auth.APIKey,
		}))
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:     cfg.RateLimit.Enabled,
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		}))

		// SSE connections are long-lived, so the request timeout applies to
		// everything except the event stream.
		timeout := chimiddleware.Timeout(cfg.Server.ReadTimeout)

		r.Route("/tasks", func(r chi.Router) {
			r.With(timeout).Post("/", taskHandler.Create)
			r.With(timeout).Get("/", taskHandler.List)

			r.Route("/{taskID}", func(r chi.Router) {
				r.With(timeout).Get("/", taskHandler.Get)
				r.With(timeout).Get("/data", dataHandler.GetData)
				r.With(timeout).Get("/data/all", dataHandler.GetAllData)
				r.With(timeout).Get("/download", dataHandler.Download)
				r.With(timeout).Get("/structure", dataHandler.Structure)
				r.Get("/events", streamHandler.Events)
				r.With(timeout).Get("/events/history", streamHandler.History)

				// Worker feedback path; same orchestrator entry points as
				// any other caller.
				r.With(timeout).Post("/progress", taskHandler.Progress)
				r.With(timeout).Post("/status", taskHandler.Status)
			})
		})
	})

	return r
}
