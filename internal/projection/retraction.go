package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// EventStore is the event-store surface the dispatcher needs.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

// Resolver determines the effective event type of a retraction so the
// dispatch re-enters the same handler set that built the projections the
// retracted event contributed to.
type Resolver struct {
	events EventStore
}

// NewResolver creates a retraction resolver over the event store.
func NewResolver(events EventStore) *Resolver {
	return &Resolver{events: events}
}

// EffectiveType resolves the original type of the event retracted by the
// retraction event with the given id. Resolution order:
//
//  1. explicit hint in the job extra payload ("retracted_event_type"),
//  2. hint inside the stored retraction event's data,
//  3. lookup of the original event row by retracted_event_id.
//
// Returns "" (and no error) when the retraction targets another
// retraction: retracting a retraction is not supported and is ignored.
func (r *Resolver) EffectiveType(ctx context.Context, retractionEventID uuid.UUID, extra map[string]any) (string, error) {
	if hint, ok := extra["retracted_event_type"].(string); ok && hint != "" {
		return hint, nil
	}

	retraction, err := r.events.GetByID(ctx, retractionEventID)
	if err != nil {
		return "", fmt.Errorf("load retraction event: %w", err)
	}

	rd, err := domain.DecodeRetraction(retraction.Data)
	if err != nil {
		return "", err
	}
	if rd.RetractedEventType != "" {
		if rd.RetractedEventType == domain.EventTypeRetracted {
			return "", nil
		}
		return rd.RetractedEventType, nil
	}

	original, err := r.events.GetByID(ctx, rd.RetractedEventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("retracted event %s: %w", rd.RetractedEventID, err)
		}
		return "", fmt.Errorf("load retracted event: %w", err)
	}
	if original.Type == domain.EventTypeRetracted {
		return "", nil
	}
	return original.Type, nil
}
