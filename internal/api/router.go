package api

import (
	"encoding/json"
	"net/http"

	"github.com/casedesk/casedesk/internal/api/handlers"
	"github.com/casedesk/casedesk/internal/api/middleware"
	"github.com/casedesk/casedesk/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates the HTTP router with all routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(recovery)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// Webhook entry points
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/events", h.HandleEvent)
		r.Post("/interactions", h.HandleInteraction)
	})

	// Read-only case inspection
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Get("/{caseID}", h.GetCase)
		})
	})

	return r
}

// recovery converts panics into a generic 500, logging the detail with the
// request id instead of leaking it in the response body.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("Handler panic recovered")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "casedesk",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "casedesk",
		})
	}
}
