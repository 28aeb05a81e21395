package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"herotales-backend/internal/bootstrap"
	"herotales-backend/internal/config"
	"herotales-backend/internal/handlers"
	"herotales-backend/internal/logging"
	"herotales-backend/internal/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Environment, cfg.LogLevel)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database, migrations, providers and the coordinator
	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	// Pick up jobs a previous process left mid-run
	if _, err := app.Coordinator.ResumeUnfinished(context.Background()); err != nil {
		logger.Error().Err(err).Msg("failed to resume unfinished jobs")
	}

	rc := handlers.RouterConfig{
		Health:  handlers.NewHealthHandler(app.Store),
		Stories: handlers.NewStoriesHandler(app.Stories, app.Status, app.Entitlements),
		Middleware: []gin.HandlerFunc{
			middleware.RequestID(),
			middleware.Logger(logger),
			gin.Recovery(),
		},
		Auth: middleware.AuthMiddleware(cfg),
	}
	if cfg.RateLimitEnabled {
		rc.GenerateLimit = middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute))
	}
	if app.Disk != nil {
		rc.AssetDir = app.Disk.Root()
	}
	router := handlers.NewRouter(rc)

	// Cancelled on shutdown so open event streams end.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs still running at shutdown were left resumable")
	}
	logger.Info().Msg("server stopped")
}
