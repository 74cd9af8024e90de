package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Projection types maintained by the built-in handlers. Custom-rule
// projections share a single type and are keyed by rule name.
const (
	ProjectionBodyComposition = "body_composition"
	ProjectionTrainingLoad    = "training_load"
	ProjectionExerciseStats   = "exercise_stats"
	ProjectionCustomRule      = "custom_rule"
)

// ProjectionKeyOverview is the default key for single-row projections.
const ProjectionKeyOverview = "overview"

// Projection is a derived materialized view owned by exactly one handler.
// Data must be a deterministic function of the user's surviving
// (non-retracted) event set; Version strictly increases on every write,
// even when Data is byte-identical.
type Projection struct {
	UserID    uuid.UUID
	Type      string
	Key       string
	Data      json.RawMessage
	Version   int64
	UpdatedAt time.Time
}
