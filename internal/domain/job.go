package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background job.
// Transitions are linear: pending → processing → completed | failed | dead.
// A failed job returns to pending when rescheduled; a dead job is never
// resurrected without operator action.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// Job types consumed by the projection worker.
const (
	JobTypeProjectionUpdate = "projection.update"
	JobTypeProjectionRetry  = "projection.retry"
)

// BackgroundJob is a unit of asynchronous work stored in background_jobs.
type BackgroundJob struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Type        string
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpdatePayload is the payload of a JobTypeProjectionUpdate job: dispatch
// this event to every handler registered for its type.
type UpdatePayload struct {
	EventType string         `json:"event_type"`
	UserID    uuid.UUID      `json:"user_id"`
	EventID   uuid.UUID      `json:"event_id"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RetryPayload is the payload of a JobTypeProjectionRetry job: re-invoke a
// single named handler. HandlerName is a string on purpose — it must
// survive serialization into the job table and process restarts.
type RetryPayload struct {
	HandlerName string         `json:"handler_name"`
	EventType   string         `json:"event_type"`
	UserID      uuid.UUID      `json:"user_id"`
	EventID     uuid.UUID      `json:"event_id"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DecodeJobPayload unmarshals a job payload into dst with context on failure.
func DecodeJobPayload(job BackgroundJob, dst any) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("job %s (%s): decode payload: %w", job.ID, job.Type, err)
	}
	return nil
}
