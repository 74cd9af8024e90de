package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
)

// TrainingLoadName is the stable registry name serialized into retry
// jobs.
const TrainingLoadName = "training_load"

var trainingLoadEvents = []string{domain.EventTypeWorkoutCompleted}

// TrainingLoad maintains the training_load/overview projection. A
// session's load is duration_min * rpe; the acute window is the 7 days
// and the chronic window the 28 days ending at the latest surviving
// event, so the projection is a pure function of the event set and not
// of the wall clock.
type TrainingLoad struct {
	events EventSource
	store  ProjectionStore
}

// NewTrainingLoad creates the training-load handler.
func NewTrainingLoad(events EventSource, store ProjectionStore) *TrainingLoad {
	return &TrainingLoad{events: events, store: store}
}

// Events returns the event types this handler subscribes to.
func (h *TrainingLoad) Events() []string {
	return trainingLoadEvents
}

type trainingLoadData struct {
	Sessions         int      `json:"sessions"`
	TotalLoad        float64  `json:"total_load"`
	AcuteLoad7d      float64  `json:"acute_load_7d"`
	ChronicLoad28d   float64  `json:"chronic_load_28d"`
	AcuteChronicRate *float64 `json:"acute_chronic_ratio"`
}

// Handle recomputes the overview row from the surviving workout events.
func (h *TrainingLoad) Handle(ctx context.Context, p projection.Payload) error {
	events, err := surviving(ctx, h.events, p.UserID, trainingLoadEvents)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return h.store.Delete(ctx, p.UserID, domain.ProjectionTrainingLoad, domain.ProjectionKeyOverview)
	}

	anchor := events[len(events)-1].Timestamp
	acuteFrom := anchor.Add(-7 * 24 * time.Hour)
	chronicFrom := anchor.Add(-28 * 24 * time.Hour)

	var data trainingLoadData
	for _, e := range events {
		fields, err := e.Fields()
		if err != nil {
			return err
		}
		duration, ok := numField(fields, "duration_min")
		if !ok {
			continue
		}
		rpe, ok := numField(fields, "rpe")
		if !ok {
			continue
		}
		load := duration * rpe

		data.Sessions++
		data.TotalLoad += load
		if !e.Timestamp.Before(acuteFrom) {
			data.AcuteLoad7d += load
		}
		if !e.Timestamp.Before(chronicFrom) {
			data.ChronicLoad28d += load
		}
	}

	// chronic is normalized to a weekly average so the ratio compares
	// like with like
	chronicWeekly := data.ChronicLoad28d / 4
	if chronicWeekly > 0 {
		ratio := round2(data.AcuteLoad7d / chronicWeekly)
		data.AcuteChronicRate = &ratio
	}

	if !finite(data.TotalLoad) || !finite(data.AcuteLoad7d) || !finite(data.ChronicLoad28d) ||
		(data.AcuteChronicRate != nil && !finite(*data.AcuteChronicRate)) {
		return &domain.InferenceError{
			Class: domain.InferenceNumericInstability,
			Err:   fmt.Errorf("training load for user %s is not finite", p.UserID),
		}
	}

	data.TotalLoad = round2(data.TotalLoad)
	data.AcuteLoad7d = round2(data.AcuteLoad7d)
	data.ChronicLoad28d = round2(data.ChronicLoad28d)

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal training load: %w", err)
	}
	_, err = h.store.Upsert(ctx, &domain.Projection{
		UserID: p.UserID,
		Type:   domain.ProjectionTrainingLoad,
		Key:    domain.ProjectionKeyOverview,
		Data:   raw,
	})
	return err
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
