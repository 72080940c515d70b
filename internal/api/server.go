package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eshaffer321/commission-recon/internal/api/handlers"
	"github.com/eshaffer321/commission-recon/internal/api/middleware"
	"github.com/eshaffer321/commission-recon/internal/application/service"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: middleware.DefaultCORSConfig().AllowedOrigins,
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	svc        *service.ReconService
	schema     handlers.SchemaReporter
}

// NewServer creates a new API server. schema may be nil, in which case the
// health check does not touch the database.
func NewServer(cfg Config, svc *service.ReconService, schema handlers.SchemaReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
		svc:    svc,
		schema: schema,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)

	corsConfig := middleware.DefaultCORSConfig()
	if len(s.config.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = s.config.AllowedOrigins
	}
	s.router.Use(middleware.CORS(corsConfig))

	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler(s.schema)
	s.router.Get("/health", healthHandler.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.ServeHTTP)

		runsHandler := handlers.NewRunsHandler(s.svc, s.logger)
		r.Get("/match/preview", runsHandler.Preview)
		r.Post("/runs", runsHandler.Create)
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/compare", runsHandler.Compare)
		r.Get("/results", runsHandler.Results)

		exceptionsHandler := handlers.NewExceptionsHandler(s.svc, s.logger)
		r.Get("/exceptions", exceptionsHandler.List)
		r.Post("/exceptions/resolve", exceptionsHandler.Resolve)
		r.Post("/exceptions/sweep", exceptionsHandler.Sweep)

		rulesHandler := handlers.NewRulesHandler(s.svc, s.logger)
		r.Get("/rules/policy", rulesHandler.List)
		r.Post("/rules/policy", rulesHandler.Upsert)

		linesHandler := handlers.NewLinesHandler(s.svc, s.logger)
		r.Get("/lines/{lineID}", linesHandler.Get)
		r.Get("/audit", linesHandler.Audit)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
