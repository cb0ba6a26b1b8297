// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/core"
)

// Server holds the dependencies for our API.
type Server struct {
	app *core.App
	log *zap.Logger
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	log := app.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{app: app, log: log.Named("api")}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer) // Recovers from panics

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/version", s.handleGetVersion)
		r.Get("/health", s.handleHealth)

		// Dataset browsing
		r.Get("/sources", s.handleListSources)
		r.Get("/datasets/{source}", s.handleListDatasets)
		r.Get("/datasets/{source}/{dataset}/files", s.handleListDatasetFiles)

		// Extraction jobs
		r.Get("/extractions", s.handleListExtractions)
		r.Route("/extractions/{source}/{dataset}", func(r chi.Router) {
			r.Post("/", s.handleStartExtraction)
			r.Get("/", s.handleGetExtraction)
			r.Delete("/", s.handleDeleteExtraction)
			r.Post("/pause", s.handlePauseExtraction)
			r.Post("/resume", s.handleResumeExtraction)
			r.Get("/results", s.handleGetExtractionResults)
		})
	})

	// WebSocket route, outside the timeout middleware.
	r.Get("/ws/extractions/{source}/{dataset}", s.handleExtractionSocket)

	return r
}
