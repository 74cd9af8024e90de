// Package worker runs the background-job consumer pool. Workers claim
// jobs concurrently (the claim query skips locked rows), execute them
// through the dispatcher, and apply the retry policy: transient
// failures are rescheduled with exponential backoff, unresolvable jobs
// are dead-lettered.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkravets/fitpulse-backend/internal/config"
	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/pkg/ctxutil"
)

// Dispatcher is the projection-core surface jobs are executed against.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, userID, eventID uuid.UUID, extra map[string]any) error
	Retry(ctx context.Context, handlerName, eventType string, userID, eventID uuid.UUID, extra map[string]any) error
}

// Jobs is the job-queue surface the pool consumes.
type Jobs interface {
	Claim(ctx context.Context) (*domain.BackgroundJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, runAt time.Time) error
	MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

// errBadJob marks jobs that can never succeed regardless of retries:
// malformed payloads and unknown job types. They go straight to dead.
var errBadJob = errors.New("unprocessable job")

// Pool is a fixed-size worker pool over the shared job queue.
type Pool struct {
	log        *slog.Logger
	jobs       Jobs
	dispatcher Dispatcher
	cfg        config.WorkerConfig
}

// New creates a worker pool.
func New(log *slog.Logger, jobs Jobs, dispatcher Dispatcher, cfg config.WorkerConfig) *Pool {
	return &Pool{log: log, jobs: jobs, dispatcher: dispatcher, cfg: cfg}
}

// Run starts cfg.Count workers and blocks until ctx is canceled. A
// worker drains the queue without pausing and falls back to polling at
// cfg.PollInterval when the queue is empty. Cancellation is a normal
// shutdown, not an error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	log := p.log.With(slog.Int("worker", worker))
	log.Info("worker started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := p.processOne(ctx)
		if err != nil {
			log.Error("claim job", slog.String("error", err.Error()))
		}
		if processed && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// processOne claims and executes at most one job. It reports whether a
// job was claimed so the caller knows the queue may hold more.
func (p *Pool) processOne(ctx context.Context) (bool, error) {
	job, err := p.jobs.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.execute(ctx, job)
	return true, nil
}

// execute runs one claimed job and settles its status.
func (p *Pool) execute(ctx context.Context, job *domain.BackgroundJob) {
	ctx = ctxutil.WithJobID(ctx, job.ID)
	ctx = ctxutil.WithUserID(ctx, job.UserID)
	log := p.log.With(
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
		slog.String("user_id", job.UserID.String()),
	)

	err := p.run(ctx, job)
	switch {
	case err == nil:
		if err := p.jobs.MarkCompleted(ctx, job.ID); err != nil {
			log.Error("mark job completed", slog.String("error", err.Error()))
		}

	case errors.Is(err, domain.ErrUserBusy):
		// Another worker holds the user's stream. Not a real attempt:
		// requeue at base backoff without burning the attempt budget.
		log.Debug("user stream busy, requeueing")
		runAt := time.Now().UTC().Add(p.cfg.BackoffBase)
		if err := p.jobs.Reschedule(ctx, job.ID, job.Attempts, err.Error(), runAt); err != nil {
			log.Error("requeue busy job", slog.String("error", err.Error()))
		}

	case isFatal(err):
		log.Error("dead-lettering job", slog.String("error", err.Error()))
		if err := p.jobs.MarkDead(ctx, job.ID, job.Attempts+1, err.Error()); err != nil {
			log.Error("mark job dead", slog.String("error", err.Error()))
		}

	default:
		attempts := job.Attempts + 1
		if attempts >= job.MaxAttempts {
			log.Error("job exhausted attempts",
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
			if err := p.jobs.MarkDead(ctx, job.ID, attempts, err.Error()); err != nil {
				log.Error("mark job dead", slog.String("error", err.Error()))
			}
			return
		}
		runAt := time.Now().UTC().Add(p.backoff(attempts))
		log.Warn("job failed, rescheduling",
			slog.Int("attempts", attempts),
			slog.Time("run_at", runAt),
			slog.String("error", err.Error()),
		)
		if err := p.jobs.Reschedule(ctx, job.ID, attempts, err.Error(), runAt); err != nil {
			log.Error("reschedule job", slog.String("error", err.Error()))
		}
	}
}

// run routes one job to the dispatcher.
func (p *Pool) run(ctx context.Context, job *domain.BackgroundJob) error {
	switch job.Type {
	case domain.JobTypeProjectionUpdate:
		var pl domain.UpdatePayload
		if err := domain.DecodeJobPayload(*job, &pl); err != nil {
			return fmt.Errorf("%w: %w", errBadJob, err)
		}
		return p.dispatcher.Dispatch(ctx, pl.EventType, pl.UserID, pl.EventID, pl.Extra)

	case domain.JobTypeProjectionRetry:
		var pl domain.RetryPayload
		if err := domain.DecodeJobPayload(*job, &pl); err != nil {
			return fmt.Errorf("%w: %w", errBadJob, err)
		}
		return p.dispatcher.Retry(ctx, pl.HandlerName, pl.EventType, pl.UserID, pl.EventID, pl.Extra)

	default:
		return fmt.Errorf("%w: unknown job type %q", errBadJob, job.Type)
	}
}

// isFatal reports whether retrying can never succeed: unknown handler
// names, absent user ids, and structurally broken jobs.
func isFatal(err error) bool {
	var unknownHandler *domain.UnknownHandlerError
	return errors.As(err, &unknownHandler) ||
		errors.Is(err, domain.ErrMissingUserID) ||
		errors.Is(err, errBadJob)
}

// backoff doubles per attempt from BackoffBase, capped at BackoffMax.
func (p *Pool) backoff(attempts int) time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	if d > p.cfg.BackoffMax {
		return p.cfg.BackoffMax
	}
	return d
}
