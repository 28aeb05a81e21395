// Package bootstrap assembles the story service from configuration. Both the
// HTTP server and storyctl build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"herotales-backend/internal/assets"
	"herotales-backend/internal/config"
	"herotales-backend/internal/coordinator"
	"herotales-backend/internal/database"
	"herotales-backend/internal/entitlement"
	"herotales-backend/internal/openai"
	"herotales-backend/internal/placeholder"
	"herotales-backend/internal/services"
	"herotales-backend/internal/status"
	"herotales-backend/internal/supabase"
)

// ShutdownTimeout bounds how long a graceful stop waits for running jobs.
const ShutdownTimeout = 30 * time.Second

type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Store        *database.Store
	Broker       *status.Broker
	Coordinator  *coordinator.Coordinator
	Entitlements *entitlement.Service
	Stories      *services.StoryService
	Status       *status.Service

	// Disk is set when images are stored locally instead of in Supabase Storage.
	Disk *assets.DiskStore

	realtime *supabase.RealtimeClient
}

// OpenStore opens the database and applies pending migrations.
func OpenStore(cfg *config.Config, logger zerolog.Logger) (*database.Store, error) {
	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.NewMigrator(store, logger).Run(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}

	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Store: store}

	deps := coordinator.Deps{
		Store:   store,
		Briefs:  store,
		Fetcher: openai.NewFetcher(cfg.ProviderTimeout),
	}

	switch cfg.ProviderMode {
	case "mock":
		deps.Text = openai.MockTextClient{}
		deps.Images = &openai.MockImageClient{}
		logger.Warn().Msg("using mock content providers")
	default:
		deps.Text = openai.NewTextClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITextModel, cfg.ProviderTimeout)
		deps.Images = openai.NewImageClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIImageModel, cfg.OpenAIImageSize, cfg.ProviderTimeout)
	}

	var forwarders []status.Forwarder
	if cfg.StorageEnabled() {
		client, err := supabase.NewClient(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.Briefs = supabase.NewChildrenClient(client)
		deps.Assets = supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		app.realtime = supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger)
		forwarders = append(forwarders, app.realtime)
	} else {
		disk, err := assets.NewDiskStore(cfg.AssetDir, cfg.BaseURL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		app.Disk = disk
		deps.Assets = disk
		logger.Info().Str("dir", cfg.AssetDir).Msg("supabase storage not configured, storing images on disk")
	}

	app.Broker = status.NewBroker(status.DefaultBufferSize, forwarders...)
	deps.Publisher = app.Broker

	coord, err := coordinator.New(deps, coordinator.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		ImageDelay:    cfg.ImageDelay,
		Placeholder:   placeholderImage(cfg, deps.Fetcher),
		Logger:        logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Coordinator = coord

	app.Entitlements = entitlement.NewService(store, cfg.SubscriptionGatingEnabled, cfg.FreeStoriesPerMonth)
	app.Stories = services.NewStoryService(store, app.Entitlements, coord, logger)
	app.Status = status.NewService(store, app.Broker)

	return app, nil
}

// placeholderImage prefers the configured placeholder URL and falls back to a
// rendered card when it is unset or unreachable.
func placeholderImage(cfg *config.Config, fetcher coordinator.ImageFetcher) coordinator.PlaceholderFunc {
	return func(ctx context.Context, chapter int) ([]byte, error) {
		if cfg.PlaceholderImageURL != "" {
			data, err := fetcher.Fetch(ctx, cfg.PlaceholderImageURL)
			if err == nil {
				return data, nil
			}
		}
		return placeholder.PNG(chapter)
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones until ctx ends.
// Jobs still running at that point stay resumable.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Coordinator != nil {
		err = a.Coordinator.Shutdown(ctx)
	}
	a.Close()
	return err
}

// Close releases the realtime sender and the database.
func (a *App) Close() {
	if a.realtime != nil {
		a.realtime.Close()
		a.realtime = nil
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close database")
		}
		a.Store = nil
	}
}
