package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

// incrementUsageSQL is a single atomic upsert. Postgres requires the
// conflicting column to be qualified by table name, SQLite rejects it.
func (s *Store) incrementUsageSQL() string {
	if s.dialect == DialectPostgres {
		return `
			INSERT INTO usage_counters (user_id, period, story_count, updated_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (user_id, period)
			DO UPDATE SET story_count = usage_counters.story_count + 1, updated_at = EXCLUDED.updated_at
		`
	}
	return `
		INSERT INTO usage_counters (user_id, period, story_count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, period)
		DO UPDATE SET story_count = story_count + 1, updated_at = excluded.updated_at
	`
}

// IncrementUsage adds one story to the user's counter for period.
func (s *Store) IncrementUsage(ctx context.Context, userID uuid.UUID, period string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.incrementUsageSQL(), userID, period, at.UTC()); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// UsageCount returns zero when no counter exists yet for period.
func (s *Store) UsageCount(ctx context.Context, userID uuid.UUID, period string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT story_count FROM usage_counters WHERE user_id = $1 AND period = $2`, userID, period,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return count, nil
}

// ActiveSubscription returns the user's subscription if it grants paid access
// at now, or nil.
func (s *Store) ActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan, status, current_period_end
		FROM subscriptions
		WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &sub.Plan, &sub.Status, &sub.CurrentPeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription: %w", err)
	}
	if !sub.IsActive(now) {
		return nil, nil
	}
	return &sub, nil
}

// SaveSubscription upserts the billing state for a user.
func (s *Store) SaveSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan, status, current_period_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET plan = excluded.plan, status = excluded.status, current_period_end = excluded.current_period_end
	`, sub.UserID, sub.Plan, sub.Status, sub.CurrentPeriodEnd.UTC())
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}
