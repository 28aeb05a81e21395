package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

// LoadBrief reads the child's generation brief. A child that does not exist or
// belongs to another user is ErrNotFound.
func (s *Store) LoadBrief(ctx context.Context, userID, childID uuid.UUID) (*models.Brief, error) {
	brief := models.Brief{ChildID: childID}
	err := s.db.QueryRowContext(ctx, `
		SELECT nickname, age, gender, appearance
		FROM children
		WHERE id = $1 AND user_id = $2
	`, childID, userID).Scan(&brief.Nickname, &brief.Age, &brief.Gender, &brief.Appearance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("child %s: %w", childID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load child: %w", err)
	}
	return &brief, nil
}

// SaveChild inserts or replaces a child profile owned by userID.
func (s *Store) SaveChild(ctx context.Context, userID uuid.UUID, brief models.Brief) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO children (id, user_id, nickname, age, gender, appearance)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET nickname = excluded.nickname, age = excluded.age,
			gender = excluded.gender, appearance = excluded.appearance
	`, brief.ChildID, userID, brief.Nickname, brief.Age, brief.Gender, brief.Appearance)
	if err != nil {
		return fmt.Errorf("failed to save child: %w", err)
	}
	return nil
}
