// Command retract voids a previously appended event: it appends an
// event.retracted row referencing the original and enqueues a
// projection.update job so the affected projections are recomputed from
// the surviving event set. The original row is never touched.
//
// Usage:
//
//	retract -event <uuid>
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	eventrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/event"
	jobrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/job"
	"github.com/mkravets/fitpulse-backend/internal/app"
	"github.com/mkravets/fitpulse-backend/internal/config"
	"github.com/mkravets/fitpulse-backend/internal/domain"
)

func main() {
	eventID := flag.String("event", "", "id of the event to retract (required)")
	flag.Parse()

	id, err := uuid.Parse(*eventID)
	if err != nil {
		log.Fatalf("retract: -event must be a valid uuid: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	events := eventrepo.New(pool)
	jobs := jobrepo.New(pool)
	txm := postgres.NewTxManager(pool)

	original, err := events.GetByID(ctx, id)
	if err != nil {
		logger.Error("load event", slog.String("event_id", id.String()), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if original.Type == domain.EventTypeRetracted {
		logger.Error("refusing to retract a retraction", slog.String("event_id", id.String()))
		os.Exit(1)
	}

	var retractionID uuid.UUID
	err = txm.RunInTx(ctx, func(ctx context.Context) error {
		data, err := json.Marshal(domain.RetractionData{
			RetractedEventID:   original.ID,
			RetractedEventType: original.Type,
		})
		if err != nil {
			return err
		}
		retraction, err := events.Append(ctx, &domain.Event{
			UserID: original.UserID,
			Type:   domain.EventTypeRetracted,
			Data:   data,
		})
		if err != nil {
			return err
		}
		retractionID = retraction.ID

		payload, err := json.Marshal(domain.UpdatePayload{
			EventType: domain.EventTypeRetracted,
			UserID:    original.UserID,
			EventID:   retraction.ID,
			Extra:     map[string]any{"retracted_event_type": original.Type},
		})
		if err != nil {
			return err
		}
		return jobs.Enqueue(ctx, &domain.BackgroundJob{
			UserID:      original.UserID,
			Type:        domain.JobTypeProjectionUpdate,
			Payload:     payload,
			MaxAttempts: cfg.Worker.MaxAttempts,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserBusy) {
			logger.Error("user stream busy, retry later", slog.String("user_id", original.UserID.String()))
		} else {
			logger.Error("append retraction", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}

	logger.Info("event retracted",
		slog.String("event_id", original.ID.String()),
		slog.String("event_type", original.Type),
		slog.String("retraction_id", retractionID.String()),
		slog.String("user_id", original.UserID.String()),
	)
}
