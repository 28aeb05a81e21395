package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordStep stores the output of a completed pipeline step. A step that is
// already recorded keeps its first payload.
func (s *Store) RecordStep(ctx context.Context, jobID uuid.UUID, step string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_job_steps (job_id, step, payload, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, step) DO NOTHING
	`, jobID, step, string(payload), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record step %s: %w", step, err)
	}
	return nil
}

// LoadSteps returns the recorded payload of every completed step keyed by name.
func (s *Store) LoadSteps(ctx context.Context, jobID uuid.UUID) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, payload FROM story_job_steps WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[string][]byte)
	for rows.Next() {
		var (
			step    string
			payload []byte
		)
		if err := rows.Scan(&step, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps[step] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}
