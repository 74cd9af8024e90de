package projection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/pkg/ctxutil"
)

// TxRunner is the transactional surface the dispatcher needs: a top-level
// unit of work holding the per-user advisory lock, and savepoint-isolated
// blocks inside it.
type TxRunner interface {
	RunInLockedTx(ctx context.Context, lockKey int64, fn func(ctx context.Context) error) error
	RunIsolated(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobQueue enqueues retry jobs. Enqueue failures never abort a dispatch.
type JobQueue interface {
	Enqueue(ctx context.Context, j *domain.BackgroundJob) error
}

// TelemetrySink records failed inference runs.
type TelemetrySink interface {
	RecordFailure(ctx context.Context, run *domain.InferenceRun) error
}

// Dispatcher routes events to projection handlers. One dispatch is one
// per-user unit of work: the advisory lock serializes it against all other
// work for the same user, and each handler runs in its own savepoint so a
// failing handler never takes its siblings down.
type Dispatcher struct {
	log         *slog.Logger
	registry    *Registry
	tx          TxRunner
	resolver    *Resolver
	jobs        JobQueue
	telemetry   TelemetrySink
	maxAttempts int
}

// NewDispatcher wires a dispatcher. maxAttempts is stamped onto retry jobs
// it enqueues.
func NewDispatcher(
	log *slog.Logger,
	registry *Registry,
	tx TxRunner,
	resolver *Resolver,
	jobs JobQueue,
	telemetry TelemetrySink,
	maxAttempts int,
) *Dispatcher {
	return &Dispatcher{
		log:         log,
		registry:    registry,
		tx:          tx,
		resolver:    resolver,
		jobs:        jobs,
		telemetry:   telemetry,
		maxAttempts: maxAttempts,
	}
}

// Dispatch runs every handler registered for the event's type.
//
// Event types with no registered handler return immediately: no lock, no
// queries. Handler failures are contained to their own savepoint and
// converted to retry jobs; the dispatch itself only fails on missing user
// id, resolution failure, or infrastructure errors (begin/lock/commit) —
// including domain.ErrUserBusy when the user's lock is contended, which
// the worker answers by requeueing the job.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, userID, eventID uuid.UUID, extra map[string]any) error {
	if userID == uuid.Nil {
		return domain.ErrMissingUserID
	}

	effectiveType := eventType
	if eventType == domain.EventTypeRetracted {
		resolved, err := d.resolver.EffectiveType(ctx, eventID, extra)
		if err != nil {
			return err
		}
		if resolved == "" {
			d.log.Warn("ignoring retraction of a retraction",
				slog.String("event_id", eventID.String()))
			return nil
		}
		effectiveType = resolved
	}

	handlers := d.registry.HandlersFor(effectiveType)
	if len(handlers) == 0 {
		return nil
	}

	payload := Payload{
		UserID:    userID,
		EventType: effectiveType,
		EventID:   eventID,
		Extra:     extra,
	}

	return d.tx.RunInLockedTx(ctx, LockKey(userID), func(ctx context.Context) error {
		for _, h := range handlers {
			err := d.tx.RunIsolated(ctx, func(ctx context.Context) error {
				return h.Handle(ctx, payload)
			})
			if err == nil {
				continue
			}
			// Partial failure, not all-or-nothing: this handler's writes
			// are rolled back, siblings keep going.
			attrs := []any{
				slog.String("handler", h.Name),
				slog.String("event_type", effectiveType),
				slog.String("user_id", userID.String()),
				slog.String("error", err.Error()),
			}
			if jobID, ok := ctxutil.JobIDFromCtx(ctx); ok {
				attrs = append(attrs, slog.String("job_id", jobID.String()))
			}
			d.log.Error("projection handler failed", attrs...)
			d.recordInferenceFailure(ctx, h.Name, userID, eventID, err)
			d.enqueueRetry(ctx, h.Name, effectiveType, userID, eventID)
		}
		return nil
	})
}

// Retry re-invokes a single named handler. An unknown name is fatal: the
// caller dead-letters the job instead of retrying the resolution failure
// forever. Handler errors propagate so the outer job system applies its
// backoff policy; no new retry job is created here.
func (d *Dispatcher) Retry(ctx context.Context, handlerName, eventType string, userID, eventID uuid.UUID, extra map[string]any) error {
	if userID == uuid.Nil {
		return domain.ErrMissingUserID
	}

	h, ok := d.registry.ByName(handlerName)
	if !ok {
		return &domain.UnknownHandlerError{Name: handlerName}
	}

	payload := Payload{
		UserID:    userID,
		EventType: eventType,
		EventID:   eventID,
		Extra:     extra,
	}

	return d.tx.RunInLockedTx(ctx, LockKey(userID), func(ctx context.Context) error {
		return h.Handle(ctx, payload)
	})
}

// recordInferenceFailure writes a telemetry run for classified inference
// failures. Best-effort: a sink error is logged, never propagated. The
// insert runs in its own savepoint — a server-side failure on the outer
// transaction would leave it aborted and take every later handler's
// savepoint (and the commit) down with it.
func (d *Dispatcher) recordInferenceFailure(ctx context.Context, handler string, userID, eventID uuid.UUID, cause error) {
	class, ok := domain.ClassifyInference(cause)
	if !ok {
		return
	}
	run := &domain.InferenceRun{
		UserID:       userID,
		Handler:      handler,
		EventID:      eventID,
		Status:       domain.InferenceRunFailed,
		FailureClass: class,
		Message:      cause.Error(),
	}
	err := d.tx.RunIsolated(ctx, func(ctx context.Context) error {
		return d.telemetry.RecordFailure(ctx, run)
	})
	if err != nil {
		d.log.Error("record inference failure",
			slog.String("handler", handler),
			slog.String("error", err.Error()),
		)
	}
}

// enqueueRetry inserts a projection.retry job for a failed handler.
// Best-effort: an insert failure is logged and must never prevent
// subsequent handlers from running. Like the telemetry write, the
// insert gets its own savepoint so a failure rolls back only itself
// instead of aborting the surrounding transaction.
func (d *Dispatcher) enqueueRetry(ctx context.Context, handlerName, eventType string, userID, eventID uuid.UUID) {
	payload, err := json.Marshal(domain.RetryPayload{
		HandlerName: handlerName,
		EventType:   eventType,
		UserID:      userID,
		EventID:     eventID,
	})
	if err != nil {
		d.log.Error("marshal retry payload", slog.String("error", err.Error()))
		return
	}

	job := &domain.BackgroundJob{
		UserID:      userID,
		Type:        domain.JobTypeProjectionRetry,
		Payload:     payload,
		MaxAttempts: d.maxAttempts,
	}
	err = d.tx.RunIsolated(ctx, func(ctx context.Context) error {
		return d.jobs.Enqueue(ctx, job)
	})
	if err != nil {
		d.log.Error("enqueue retry job",
			slog.String("handler", handlerName),
			slog.String("error", err.Error()),
		)
	}
}
