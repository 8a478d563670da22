// Package main provides the entrypoint for the PackGate API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/packgate/packgate/internal/api"
	"github.com/packgate/packgate/internal/api/middleware"
	"github.com/packgate/packgate/internal/codec"
	"github.com/packgate/packgate/internal/resilience"
	"github.com/packgate/packgate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "packgate-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting PackGate API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize HTTP metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Initialize the degradation supervisor
	recoveryInterval := durationFromEnv("RECOVERY_INTERVAL", 60*time.Second, log)
	supervisor, err := resilience.NewSupervisor(resilience.SupervisorConfig{
		Logger:           log,
		RecoveryInterval: recoveryInterval,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize supervisor")
		os.Exit(1)
	}

	// Best compression ratio first; the chain falls back toward the
	// cheaper codecs at the tail under load.
	supervisor.RegisterAlgorithm("xz", codec.NewXZ())
	supervisor.RegisterAlgorithm("brotli", codec.NewBrotli())
	supervisor.RegisterAlgorithm("zstd", codec.NewZstd())
	supervisor.RegisterAlgorithm("gzip", codec.NewGzip())
	supervisor.RegisterAlgorithm("flate", codec.NewFlate())
	supervisor.RegisterAlgorithm("lz4", codec.NewLZ4())

	supervisor.Start(ctx)
	defer supervisor.Stop()
	log.Info().Msg("degradation supervisor started")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		Logger:     log,
		Metrics:    metrics,
		Supervisor: supervisor,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func durationFromEnv(key string, fallback time.Duration, log zerolog.Logger) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
		return fallback
	}
	return d
}
