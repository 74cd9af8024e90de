package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
)

// ExerciseStatsName is the stable registry name serialized into retry
// jobs.
const ExerciseStatsName = "exercise_stats"

var exerciseStatsEvents = []string{domain.EventTypePerformanceLogged}

// ExerciseStats maintains one exercise_stats row per exercise_id. Keys
// whose contributing event set has vanished are deleted, so retracting
// the last set for an exercise removes its row.
type ExerciseStats struct {
	events EventSource
	store  ProjectionStore
}

// NewExerciseStats creates the exercise-stats handler.
func NewExerciseStats(events EventSource, store ProjectionStore) *ExerciseStats {
	return &ExerciseStats{events: events, store: store}
}

// Events returns the event types this handler subscribes to.
func (h *ExerciseStats) Events() []string {
	return exerciseStatsEvents
}

type exerciseStatsData struct {
	Sets          int       `json:"sets"`
	TotalVolumeKg float64   `json:"total_volume_kg"`
	BestWeightKg  float64   `json:"best_weight_kg"`
	Estimated1RM  float64   `json:"estimated_1rm_kg"`
	LastPerformed time.Time `json:"last_performed"`
}

// Handle recomputes every per-exercise row from the surviving
// performance events and prunes rows for exercises with none left.
func (h *ExerciseStats) Handle(ctx context.Context, p projection.Payload) error {
	events, err := surviving(ctx, h.events, p.UserID, exerciseStatsEvents)
	if err != nil {
		return err
	}

	byExercise := make(map[string]*exerciseStatsData)
	for _, e := range events {
		fields, err := e.Fields()
		if err != nil {
			return err
		}
		exerciseID, ok := fields["exercise_id"].(string)
		if !ok || exerciseID == "" {
			continue
		}
		weight, ok := numField(fields, "weight_kg")
		if !ok {
			continue
		}
		reps, ok := numField(fields, "reps")
		if !ok || reps < 1 {
			continue
		}

		stats := byExercise[exerciseID]
		if stats == nil {
			stats = &exerciseStatsData{}
			byExercise[exerciseID] = stats
		}
		stats.Sets++
		stats.TotalVolumeKg += weight * reps
		if weight > stats.BestWeightKg {
			stats.BestWeightKg = weight
		}
		// Epley estimate
		if oneRM := weight * (1 + reps/30); oneRM > stats.Estimated1RM {
			stats.Estimated1RM = oneRM
		}
		if e.Timestamp.After(stats.LastPerformed) {
			stats.LastPerformed = e.Timestamp
		}
	}

	for exerciseID, stats := range byExercise {
		stats.TotalVolumeKg = round2(stats.TotalVolumeKg)
		stats.Estimated1RM = round2(stats.Estimated1RM)

		raw, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal exercise stats %q: %w", exerciseID, err)
		}
		_, err = h.store.Upsert(ctx, &domain.Projection{
			UserID: p.UserID,
			Type:   domain.ProjectionExerciseStats,
			Key:    exerciseID,
			Data:   raw,
		})
		if err != nil {
			return err
		}
	}

	keys, err := h.store.ListKeys(ctx, p.UserID, domain.ProjectionExerciseStats)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := byExercise[key]; ok {
			continue
		}
		if err := h.store.Delete(ctx, p.UserID, domain.ProjectionExerciseStats, key); err != nil {
			return err
		}
	}
	return nil
}
