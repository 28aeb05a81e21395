package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

const jobColumns = `id, user_id, child_id, theme, status, progress, title, content,
	is_published, error_message, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	var (
		job     models.GenerationJob
		status  string
		content []byte
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.ChildID, &job.Theme, &status, &job.Progress, &job.Title, &content,
		&job.IsPublished, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := models.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	job.Status = parsed

	if job.Content, err = models.UnmarshalContent(content); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new pending job.
func (s *Store) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_jobs (id, user_id, child_id, theme, status, progress, title, is_published, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.UserID, job.ChildID, job.Theme, string(job.Status), job.Progress, job.Title,
		job.IsPublished, job.StartedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM story_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobForUser returns ErrNotFound when the job belongs to someone else.
func (s *Store) GetJobForUser(ctx context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM story_jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the newest jobs first. uuid.Nil lists every user's jobs.
func (s *Store) ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if userID == uuid.Nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM story_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM story_jobs WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListUnfinishedJobs returns every non-terminal job, oldest first.
func (s *Store) ListUnfinishedJobs(ctx context.Context) ([]*models.GenerationJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM story_jobs
		WHERE status NOT IN ('completed', 'failed')
		ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*models.GenerationJob, error) {
	defer rows.Close()

	var jobs []*models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// AdvanceJob moves a live job to status and raises progress. The row must
// currently be at status or an earlier state, so a stale driver cannot move the
// job backwards; such calls touch nothing and return ErrStaleState. Progress
// never goes down, and terminal jobs are reported as ErrTerminal.
func (s *Store) AdvanceJob(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress int, at time.Time) error {
	from := status.AtOrBefore()
	if len(from) == 0 {
		return fmt.Errorf("cannot advance job to %s: %w", status, models.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE story_jobs
		SET status = $2,
			progress = CASE WHEN progress > $3 THEN progress ELSE $3 END,
			updated_at = $4
		WHERE id = $1 AND status IN (`+statusList(from)+`)
	`, jobID, string(status), progress, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance job: %w", err)
	}
	return s.checkAffected(ctx, res, jobID)
}

// ClaimJob takes or renews the driver lease on a live job. It reports false
// while another driver holds a lease that has not expired.
func (s *Store) ClaimJob(ctx context.Context, jobID uuid.UUID, driverID string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE story_jobs
		SET driver_id = $2, lease_until = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
			AND (driver_id IS NULL OR driver_id = $2 OR lease_until IS NULL OR lease_until < $4)
	`, jobID, driverID, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	err = s.checkAffected(ctx, res, jobID)
	if errors.Is(err, models.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseJob drops driverID's lease so another driver can claim the job at once.
func (s *Store) ReleaseJob(ctx context.Context, jobID uuid.UUID, driverID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE story_jobs SET driver_id = NULL, lease_until = NULL
		WHERE id = $1 AND driver_id = $2
	`, jobID, driverID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

func statusList(statuses []models.JobStatus) string {
	quoted := make([]string, len(statuses))
	for i, st := range statuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return strings.Join(quoted, ", ")
}

// SetTitle replaces the placeholder title together with a progress bump.
func (s *Store) SetTitle(ctx context.Context, jobID uuid.UUID, title string, progress int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE story_jobs
		SET title = $2,
			progress = CASE WHEN progress > $3 THEN progress ELSE $3 END,
			updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, jobID, title, progress, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	return s.checkAffected(ctx, res, jobID)
}

// FailJob marks a live job failed. Progress keeps its last value.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE story_jobs
		SET status = 'failed', error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, jobID, message, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return s.checkAffected(ctx, res, jobID)
}

// FinalizeJob writes the story and completes the job in one transaction. The
// owner's usage counter for period is incremented only when this call is the
// one that moved the job out of a live state.
func (s *Store) FinalizeJob(ctx context.Context, jobID uuid.UUID, content *models.StoryContent, period string, at time.Time) error {
	payload, err := models.MarshalContent(content)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE story_jobs
		SET content = $2, title = $3, is_published = TRUE, status = 'completed',
			progress = 100, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
		RETURNING user_id
	`, jobID, string(payload), content.Title, at.UTC()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return s.missingJob(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.incrementUsageSQL(), userID, period, at.UTC()); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit finalize: %w", err)
	}
	return nil
}

func (s *Store) checkAffected(ctx context.Context, res sql.Result, jobID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return s.missingJob(ctx, jobID)
	}
	return nil
}
