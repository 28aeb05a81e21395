// Package database persists story jobs, their step log, persisted images,
// usage counters and the child/subscription rows the pipeline reads.
//
// The same queries run against Postgres (lib/pq) in production and an
// embedded SQLite file (modernc.org/sqlite) for local development and tests.
// Both drivers accept $N placeholders.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"herotales-backend/internal/models"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open picks the driver from the URL scheme: postgres:// and postgresql://
// use lib/pq, sqlite://<path> and file: URLs use the embedded SQLite driver.
func Open(databaseURL string) (*Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"):
		return OpenSQLite(databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func OpenPostgres(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	return &Store{db: db, dialect: DialectPostgres}, nil
}

func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// A single connection serialises writers and keeps the pragmas below in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	return &Store{db: db, dialect: DialectSQLite}, nil
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// missingJob explains why a guarded update touched no rows: the job is
// missing, finished, or in a state the update did not expect.
func (s *Store) missingJob(ctx context.Context, jobID uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM story_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if models.JobStatus(status).IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, status, models.ErrTerminal)
	}
	return fmt.Errorf("job %s is %s: %w", jobID, status, models.ErrStaleState)
}
