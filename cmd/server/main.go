// Parley - conversational AI assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/api"
	"github.com/parleyai/parley/internal/chat"
	"github.com/parleyai/parley/internal/config"
	"github.com/parleyai/parley/internal/identity"
	"github.com/parleyai/parley/internal/metrics"
	"github.com/parleyai/parley/internal/middleware"
	"github.com/parleyai/parley/internal/prompt"
	"github.com/parleyai/parley/internal/store"
	"github.com/parleyai/parley/internal/stream"
	"github.com/parleyai/parley/internal/translog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	transcripts, err := translog.New(translog.Config{
		Enabled:       cfg.TranscriptLog.Enabled,
		Dir:           cfg.TranscriptLog.Dir,
		GlobalEnabled: cfg.TranscriptLog.GlobalEnabled,
		GlobalPath:    cfg.TranscriptLog.GlobalPath,
		QueueSize:     cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// The agent runner is an external collaborator. Without a configured
	// provider the server still runs; chats stream a terminal error event.
	var runner agent.Runner = agent.UnavailableRunner{Reason: "no model provider configured"}
	slog.Info("Agent runner", "configured", false)

	m := metrics.New()
	registry := stream.NewRegistry(cfg.Stream.QueueCapacity, m)
	toolCalls := stream.NewToolCalls()
	driver := stream.NewDriver(stream.DriverConfig{
		Store:          repo,
		Runner:         runner,
		Codec:          stream.NewCodec(toolCalls),
		ToolCalls:      toolCalls,
		Prompts:        prompt.NewBuilder(prompt.StoredMemory{}),
		Transcripts:    transcripts,
		Metrics:        m,
		Logger:         logger,
		ChunkSize:      cfg.Stream.ChunkSize,
		TableChunkSize: cfg.Stream.TableChunkSize,
	})

	rateLimiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo)
	chatHandler := chat.NewHandler(chat.HandlerConfig{
		Repo:          repo,
		Registry:      registry,
		Driver:        driver,
		RateLimiter:   rateLimiter,
		DefaultModel:  cfg.DefaultModel,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	// Dev runs with no configured frontend accept any origin; a deployed
	// frontend is the only origin that may send credentials.
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Handle("/metrics", promhttp.Handler())

	// All other routes use identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		baseHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
	})

	// Socket connections stay open for the life of a subscription, so no
	// write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
