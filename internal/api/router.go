// Package api provides the HTTP API for PackGate.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/packgate/packgate/internal/api/handler"
	"github.com/packgate/packgate/internal/api/middleware"
	"github.com/packgate/packgate/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics
	Supervisor *resilience.DegradationSupervisor
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing()) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction

	compressHandler := handler.NewCompressHandler(cfg.Supervisor)
	opsHandler := handler.NewOpsHandler(cfg.Supervisor, cfg.Version)

	// Rate limit middleware per endpoint category
	compressRateLimit := middleware.RateLimitByIP(middleware.CompressRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		// Compression endpoints - expensive compute, strict rate limiting
		r.With(compressRateLimit).Post("/compress", compressHandler.Compress)
		r.With(compressRateLimit).Post("/decompress", compressHandler.Decompress)

		// Ops endpoints
		r.Route("/ops", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})
	})

	return r
}
