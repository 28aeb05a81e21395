package supabase

import (
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"

	"herotales-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

// NewClient connects with the service key so row-level security does not hide
// rows the backend is entitled to read on a user's behalf.
func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
