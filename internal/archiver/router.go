package archiver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes returns the api v1 routes, for mounting under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "DELETE"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// archive runs
	r.Post("/archive", h.StartArchive)
	r.Get("/archive", h.ListRuns)
	r.Get("/archive/{id}", h.RunStatus)
	r.Delete("/archive/{id}", h.StopRun)

	// ledger
	r.Get("/ledger/{channelId}", h.GetLedger)

	return r
}

// NewRouter creates a new chi router with all archiver endpoints
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	// middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// health check
	r.Get("/health", handler.Health)

	r.Mount("/api/v1", handler.Routes())

	return r
}
