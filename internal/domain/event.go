package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known event types consumed by the projection core.
// Producers may append any event type; types without a registered handler
// and outside the rule-source catalog are ignored by the dispatcher.
const (
	EventTypeRetracted    = "event.retracted"
	EventTypeRuleCreated  = "projection_rule.created"
	EventTypeRuleArchived = "projection_rule.archived"

	EventTypeBodyweightLogged  = "bodyweight.logged"
	EventTypeBodyFatLogged     = "body_fat.logged"
	EventTypeWorkoutCompleted  = "workout.completed"
	EventTypePerformanceLogged = "exercise.performance.logged"
)

// Event is a single immutable fact in a user's append-only stream.
// Events are never updated or deleted; corrections are expressed by
// appending an EventTypeRetracted event referencing the original.
type Event struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Data      json.RawMessage
	Metadata  json.RawMessage
	Timestamp time.Time
}

// Fields decodes Data into a generic map. Unknown producer fields are
// preserved, so handlers tolerate payloads newer than themselves.
func (e Event) Fields() (map[string]any, error) {
	if len(e.Data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, fmt.Errorf("event %s: decode data: %w", e.ID, err)
	}
	return m, nil
}

// RetractionData is the payload of an EventTypeRetracted event.
// RetractedEventType is an optional hint; when absent the resolver looks
// the original event up in the store.
type RetractionData struct {
	RetractedEventID   uuid.UUID `json:"retracted_event_id"`
	RetractedEventType string    `json:"retracted_event_type,omitempty"`
}

// DecodeRetraction parses the payload of a retraction event.
func DecodeRetraction(data json.RawMessage) (RetractionData, error) {
	var rd RetractionData
	if err := json.Unmarshal(data, &rd); err != nil {
		return RetractionData{}, fmt.Errorf("decode retraction data: %w", err)
	}
	if rd.RetractedEventID == uuid.Nil {
		return RetractionData{}, NewValidationError("retracted_event_id", "is required")
	}
	return rd, nil
}
