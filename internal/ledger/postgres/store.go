package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityPilot/internal/ledger"
	"liquidityPilot/internal/model"
)

// Store provides Postgres persistence for pipeline jobs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pool to the DSN.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the jobs table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id         text PRIMARY KEY,
			status     text NOT NULL,
			step       text NOT NULL,
			metadata   jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

// Get implements ledger.Ledger.
func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, step, metadata, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var (
		job      model.Job
		status   string
		metadata []byte
	)
	err := row.Scan(&job.ID, &status, &job.Step, &metadata, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	job.Status = model.JobStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("parse job %s metadata: %w", id, err)
		}
	}
	return &job, nil
}

// Create implements ledger.Ledger.
func (s *Store) Create(ctx context.Context, job *model.Job) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	if job.Metadata == nil {
		metadata = []byte(`{}`)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, step, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, string(job.Status), job.Step, metadata, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Update implements ledger.Ledger. Nil patch fields keep their stored
// values; Meta is deep-merged into the stored metadata. The merge happens in
// a transaction holding the row lock, since jsonb || only merges shallowly.
func (s *Store) Update(ctx context.Context, id string, patch model.JobPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	var stored []byte
	err = tx.QueryRow(ctx, `SELECT metadata FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("lock job %s: %w", id, err)
	}

	metadata := make(map[string]any)
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &metadata); err != nil {
			return fmt.Errorf("parse job %s metadata: %w", id, err)
		}
	}
	if len(patch.Meta) > 0 {
		ledger.MergeMeta(metadata, patch.Meta)
	}
	merged, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal job %s metadata: %w", id, err)
	}

	var status, step *string
	if patch.Status != nil {
		value := string(*patch.Status)
		status = &value
	}
	if patch.Step != nil {
		step = patch.Step
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = COALESCE($2, status),
			step = COALESCE($3, step),
			metadata = $4,
			updated_at = now()
		WHERE id = $1
	`, id, status, step, merged)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return tx.Commit(ctx)
}
