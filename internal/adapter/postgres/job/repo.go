// Package job implements the background_jobs repository using PostgreSQL.
// Jobs move linearly: pending → processing → completed | failed | dead.
// A failed job is claimable again once its run_at passes; a dead job is
// terminal and requires operator action.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Repo provides background-job persistence backed by PostgreSQL.
type Repo struct {
	db postgres.Querier
}

// New creates a new job repository.
func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

const jobColumns = `id, user_id, job_type AS "type", payload, status, attempts,
max_attempts, run_at, last_error, created_at, updated_at`

const enqueueSQL = `
INSERT INTO background_jobs (id, user_id, job_type, payload, status, max_attempts, run_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $6)`

// claimSQL picks the oldest runnable job. FOR UPDATE SKIP LOCKED lets a
// pool of workers claim concurrently without contending on the same row.
const claimSQL = `
UPDATE background_jobs
SET status = 'processing', updated_at = now()
WHERE id = (
    SELECT id FROM background_jobs
    WHERE status IN ('pending', 'failed') AND run_at <= now()
    ORDER BY run_at, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, user_id, job_type AS "type", payload, status, attempts,
max_attempts, run_at, last_error, created_at, updated_at`

const completeSQL = `
UPDATE background_jobs
SET status = 'completed', updated_at = now()
WHERE id = $1 AND status = 'processing'`

const rescheduleSQL = `
UPDATE background_jobs
SET status = 'failed', attempts = $2, last_error = $3, run_at = $4, updated_at = now()
WHERE id = $1 AND status = 'processing'`

const deadSQL = `
UPDATE background_jobs
SET status = 'dead', attempts = $2, last_error = $3, updated_at = now()
WHERE id = $1 AND status = 'processing'`

// Enqueue inserts a pending job. Zero ID and RunAt are filled in;
// MaxAttempts must be set by the caller.
func (r *Repo) Enqueue(ctx context.Context, j *domain.BackgroundJob) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.RunAt.IsZero() {
		j.RunAt = time.Now().UTC()
	}
	payload := j.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	_, err := q.Exec(ctx, enqueueSQL, j.ID, j.UserID, j.Type, payload, j.MaxAttempts, j.RunAt)
	if err != nil {
		return postgres.MapError(err, "background_job", j.ID)
	}
	return nil
}

// Claim atomically moves the oldest runnable job to processing and returns
// it. Returns (nil, nil) when no job is runnable.
func (r *Repo) Claim(ctx context.Context) (*domain.BackgroundJob, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var j domain.BackgroundJob
	err := pgxscan.Get(ctx, q, &j, claimSQL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim background job: %w", err)
	}
	return &j, nil
}

// MarkCompleted finishes a processing job.
func (r *Repo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	tag, err := q.Exec(ctx, completeSQL, id)
	if err != nil {
		return postgres.MapError(err, "background_job", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("background_job %s: not processing: %w", id, domain.ErrConflict)
	}
	return nil
}

// Reschedule marks a processing job failed and runnable again at runAt.
func (r *Repo) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, runAt time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	tag, err := q.Exec(ctx, rescheduleSQL, id, attempts, lastError, runAt)
	if err != nil {
		return postgres.MapError(err, "background_job", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("background_job %s: not processing: %w", id, domain.ErrConflict)
	}
	return nil
}

// MarkDead dead-letters a processing job. Dead jobs are never claimed
// again; resurrection is an operator decision.
func (r *Repo) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	tag, err := q.Exec(ctx, deadSQL, id, attempts, lastError)
	if err != nil {
		return postgres.MapError(err, "background_job", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("background_job %s: not processing: %w", id, domain.ErrConflict)
	}
	return nil
}
