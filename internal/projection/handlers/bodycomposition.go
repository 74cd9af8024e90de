package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
)

// BodyCompositionName is the stable registry name serialized into retry
// jobs.
const BodyCompositionName = "body_composition"

var bodyCompositionEvents = []string{
	domain.EventTypeBodyweightLogged,
	domain.EventTypeBodyFatLogged,
}

// BodyComposition maintains the body_composition/overview projection:
// weigh-in totals and weight aggregates plus the latest body-fat
// reading.
type BodyComposition struct {
	events EventSource
	store  ProjectionStore
}

// NewBodyComposition creates the body-composition handler.
func NewBodyComposition(events EventSource, store ProjectionStore) *BodyComposition {
	return &BodyComposition{events: events, store: store}
}

// Events returns the event types this handler subscribes to.
func (h *BodyComposition) Events() []string {
	return bodyCompositionEvents
}

type bodyCompositionData struct {
	TotalWeighIns   int        `json:"total_weigh_ins"`
	CurrentWeightKg *float64   `json:"current_weight_kg"`
	MinWeightKg     *float64   `json:"min_weight_kg"`
	MaxWeightKg     *float64   `json:"max_weight_kg"`
	AvgWeightKg     *float64   `json:"avg_weight_kg"`
	BodyFatPct      *float64   `json:"body_fat_pct"`
	BodyFatLoggedAt *time.Time `json:"body_fat_logged_at"`
}

// Handle recomputes the overview row from the surviving weigh-in and
// body-fat events.
func (h *BodyComposition) Handle(ctx context.Context, p projection.Payload) error {
	events, err := surviving(ctx, h.events, p.UserID, bodyCompositionEvents)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return h.store.Delete(ctx, p.UserID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	}

	var data bodyCompositionData
	var sum float64
	for _, e := range events {
		fields, err := e.Fields()
		if err != nil {
			return err
		}
		switch e.Type {
		case domain.EventTypeBodyweightLogged:
			w, ok := numField(fields, "weight_kg")
			if !ok {
				continue
			}
			data.TotalWeighIns++
			sum += w
			// events are timestamp-ordered, the last one wins
			data.CurrentWeightKg = &w
			if data.MinWeightKg == nil || w < *data.MinWeightKg {
				data.MinWeightKg = &w
			}
			if data.MaxWeightKg == nil || w > *data.MaxWeightKg {
				data.MaxWeightKg = &w
			}
		case domain.EventTypeBodyFatLogged:
			pct, ok := numField(fields, "body_fat_pct")
			if !ok {
				continue
			}
			ts := e.Timestamp
			data.BodyFatPct = &pct
			data.BodyFatLoggedAt = &ts
		}
	}
	if data.TotalWeighIns > 0 {
		avg := round2(sum / float64(data.TotalWeighIns))
		data.AvgWeightKg = &avg
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal body composition: %w", err)
	}
	_, err = h.store.Upsert(ctx, &domain.Projection{
		UserID: p.UserID,
		Type:   domain.ProjectionBodyComposition,
		Key:    domain.ProjectionKeyOverview,
		Data:   raw,
	})
	return err
}
