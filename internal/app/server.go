package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vectorflowhq/vectorflow/internal/api/handlers"
	"github.com/vectorflowhq/vectorflow/internal/config"
	"github.com/vectorflowhq/vectorflow/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, intake *services.IntakeService, logger *slog.Logger) *Server {
	ingestHandler := handlers.NewIngestHandler(intake)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/uploads/request", ingestHandler.RequestUpload)
		api.Post("/uploads/complete", ingestHandler.TriggerProcessing)
		api.Post("/documents/upload", ingestHandler.UploadDocument)
		api.Get("/documents", ingestHandler.ListRecords)
		api.Get("/documents/{hash}", ingestHandler.GetRecordByHash)
		api.Get("/jobs/{id}", ingestHandler.GetJobStatus)
		api.Post("/jobs/{id}/retry", ingestHandler.RetryJob)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
