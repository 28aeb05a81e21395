// Package assets stores chapter illustrations on local disk for deployments
// without Supabase Storage. Files are served by the HTTP server under /assets.
package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"herotales-backend/internal/supabase"
)

type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates root if needed. baseURL is the public origin of the
// HTTP server, e.g. http://localhost:8080.
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// PutImage writes the image next to a temporary file and renames it into
// place, so a reader never sees a partial file. Writing the same chapter again
// replaces it.
func (d *DiskStore) PutImage(ctx context.Context, userID, jobID uuid.UUID, chapter int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel := supabase.StoragePath(userID, jobID, chapter)
	dst := filepath.Join(d.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".chapter-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}

	return d.baseURL + "/assets/" + rel, nil
}

func (d *DiskStore) Root() string {
	return d.root
}
