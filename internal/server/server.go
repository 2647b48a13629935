// Package server exposes report generation and run telemetry over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dossier/internal/config"
	"dossier/internal/core"
	"dossier/internal/logger"
	"dossier/internal/report"
	"dossier/internal/tracking"
)

// Reports starts background report runs.
type Reports interface {
	Start(ctx context.Context, req core.ReportConfig, opts report.Options) (string, error)
	Wait()
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	reports    Reports
	sink       tracking.Sink
	config     config.Server
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(reports Reports, sink tracking.Sink, cfg config.Server) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		reports: reports,
		sink:    sink,
		config:  cfg,
		log:     logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(config.Duration(s.config.RequestTimeout, 60*time.Second)))
	s.router.Use(securityHeaders)

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300, // Maximum value not ignored by any major browsers
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.With(s.requireAPIKey).Post("/", s.handleCreateReport)
			r.Get("/{id}/logs", s.handleReportLogs)
			r.Get("/{id}/metrics", s.handleReportMetrics)
		})
		r.Get("/stats", s.handleStats)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests, then waits for running reports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.reports.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("HTTP server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reports still running at shutdown: %w", ctx.Err())
	}
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
