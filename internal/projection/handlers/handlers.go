// Package handlers contains the built-in projection handlers. Each
// handler owns one projection_type and recomputes it fully from the
// user's surviving event set on every invocation — never by patching
// the previous row — so retractions and replays converge on the same
// data. An empty surviving set deletes the row instead of writing an
// empty one.
package handlers

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// EventSource is the event-store surface handlers read through. Every
// read excludes the user's retracted-id set.
type EventSource interface {
	RetractedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListSurviving(ctx context.Context, userID uuid.UUID, types []string, exclude []uuid.UUID) ([]domain.Event, error)
}

// ProjectionStore is the projection-store surface handlers write.
type ProjectionStore interface {
	Upsert(ctx context.Context, p *domain.Projection) (*domain.Projection, error)
	Delete(ctx context.Context, userID uuid.UUID, ptype, key string) error
	ListKeys(ctx context.Context, userID uuid.UUID, ptype string) ([]string, error)
}

// surviving loads the user's non-retracted events of the given types in
// timestamp order.
func surviving(ctx context.Context, events EventSource, userID uuid.UUID, types []string) ([]domain.Event, error) {
	exclude, err := events.RetractedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return events.ListSurviving(ctx, userID, types, exclude)
}

// numField extracts a numeric field from an event payload. JSON numbers
// decode as float64; anything else reports absence.
func numField(fields map[string]any, name string) (float64, bool) {
	v, ok := fields[name].(float64)
	return v, ok
}

// round2 keeps projection aggregates at a stable two-decimal precision
// so recomputation is bitwise reproducible across platforms.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
