// Package inference implements the inference-telemetry repository using
// PostgreSQL. Failed runs of statistical handlers are recorded here,
// separate from the generic retry queue.
package inference

import (
	"context"
	"time"

	"github.com/google/uuid"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Repo provides inference-run persistence backed by PostgreSQL.
type Repo struct {
	db postgres.Querier
}

// New creates a new inference-run repository.
func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

const recordSQL = `
INSERT INTO inference_runs (id, user_id, handler, event_id, status, failure_class, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// RecordFailure inserts a failed-run telemetry row.
func (r *Repo) RecordFailure(ctx context.Context, run *domain.InferenceRun) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = domain.InferenceRunFailed
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx, recordSQL,
		run.ID, run.UserID, run.Handler, run.EventID,
		run.Status, string(run.FailureClass), run.Message, run.CreatedAt,
	)
	if err != nil {
		return postgres.MapError(err, "inference_run", run.ID)
	}
	return nil
}
