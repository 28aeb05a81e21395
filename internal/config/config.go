package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string
	BaseURL     string
	LogLevel    string

	// Database
	DatabaseURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseJWTSecret     string
	SupabaseStorageBucket string

	// Local asset directory used when Supabase Storage is not configured
	AssetDir string

	// Providers
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAITextModel     string
	OpenAIImageModel    string
	OpenAIImageSize     string
	ProviderMode        string
	ProviderTimeout     time.Duration
	ImageDelay          time.Duration
	PlaceholderImageURL string

	// Generation policy
	MaxConcurrentJobs         int
	RateLimitEnabled          bool
	RateLimitPerMinute        int
	SubscriptionGatingEnabled bool
	FreeStoriesPerMonth       int

	// Operator CLI
	StoryctlLockPath string
}

// Load reads configuration from the environment. Values from .env and
// .env.local are applied first when those files exist.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseJWTSecret:     getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "story-images"),

		AssetDir: getEnv("ASSET_DIR", "data/assets"),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAITextModel:     getEnv("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
		OpenAIImageModel:    getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		OpenAIImageSize:     getEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
		ProviderMode:        strings.ToLower(getEnv("PROVIDER_MODE", "openai")),
		ProviderTimeout:     time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)) * time.Second,
		ImageDelay:          time.Duration(getEnvInt("IMAGE_DELAY_MS", 1500)) * time.Millisecond,
		PlaceholderImageURL: getEnv("PLACEHOLDER_IMAGE_URL", ""),

		MaxConcurrentJobs:         getEnvInt("MAX_CONCURRENT_JOBS", 5),
		RateLimitEnabled:          getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute:        getEnvInt("RATE_LIMIT_PER_MINUTE", 5),
		SubscriptionGatingEnabled: getEnvBool("SUBSCRIPTION_GATING_ENABLED", true),
		FreeStoriesPerMonth:       getEnvInt("FREE_STORIES_PER_MONTH", 3),

		StoryctlLockPath: getEnv("STORYCTL_LOCK_PATH", os.TempDir()+"/storyctl.lock"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ProviderMode != "openai" && c.ProviderMode != "mock" {
		return fmt.Errorf("PROVIDER_MODE must be openai or mock, got %q", c.ProviderMode)
	}
	if c.ProviderMode == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	return nil
}

// StorageEnabled reports whether Supabase Storage can be used for generated images.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
