package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/reelgrabba/internal/api/handler"
	mw "github.com/iconidentify/reelgrabba/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
// requestTimeout must cover a fully exhausted retrieval attempt loop
// (see config.FetchConfig.RetryBudget) plus the transcode.
func NewRouter(
	instaHandler *handler.InstaHandler,
	historyHandler *handler.HistoryHandler,
	healthHandler *handler.HealthHandler,
	artifactRoot string,
	apiKey string,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// Download endpoint (no auth - matches the public contract)
	r.Post("/insta", instaHandler.Download)

	// Stored artifacts, served read-only straight off the artifact root.
	fileServer := http.StripPrefix("/downloads/", http.FileServer(http.Dir(artifactRoot)))
	r.Get("/downloads/*", fileServer.ServeHTTP)

	// API v1 (authenticated when a key is configured)
	r.Route("/api/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(mw.APIKeyAuth(apiKey))
		}
		r.Get("/retrievals", historyHandler.List)
	})

	return r
}
