package domain

import (
	"time"

	"github.com/google/uuid"
)

// InferenceRunFailed is the only status the core records: successful
// inference runs are owned by the handlers themselves, failed ones are
// captured centrally so transient engine trouble is observable separately
// from structural bugs.
const InferenceRunFailed = "failed"

// InferenceRun is one telemetry record for a failed inference-style
// handler invocation.
type InferenceRun struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Handler      string
	EventID      uuid.UUID
	Status       string
	FailureClass InferenceFailureClass
	Message      string
	CreatedAt    time.Time
}
