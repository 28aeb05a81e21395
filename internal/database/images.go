package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

// SaveImage records the persisted URL for one chapter. The first write wins,
// so a persisted URL is never replaced.
func (s *Store) SaveImage(ctx context.Context, jobID uuid.UUID, img models.GeneratedImage, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_images (job_id, chapter_index, url, provider_url, is_placeholder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, chapter_index) DO NOTHING
	`, jobID, img.ChapterIndex, img.PersistedURL, img.ProviderURL, img.Placeholder, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to save image for chapter %d: %w", img.ChapterIndex, err)
	}
	return nil
}

func (s *Store) ListImages(ctx context.Context, jobID uuid.UUID) ([]models.GeneratedImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chapter_index, url, provider_url, is_placeholder
		FROM story_images
		WHERE job_id = $1
		ORDER BY chapter_index ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []models.GeneratedImage
	for rows.Next() {
		var img models.GeneratedImage
		if err := rows.Scan(&img.ChapterIndex, &img.PersistedURL, &img.ProviderURL, &img.Placeholder); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate images: %w", err)
	}
	return images, nil
}
