package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// SeedEvent inserts one event row and returns it. Timestamp is
// truncated to microseconds to survive the PostgreSQL round-trip.
func SeedEvent(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID, eventType string, ts time.Time, data map[string]any) domain.Event {
	t.Helper()
	ctx := context.Background()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("testhelper: SeedEvent marshal data: %v", err)
	}

	e := domain.Event{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      eventType,
		Data:      raw,
		Metadata:  json.RawMessage(`{}`),
		Timestamp: ts.UTC().Truncate(time.Microsecond),
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO events (id, user_id, event_type, data, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.Type, e.Data, e.Metadata, e.Timestamp,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedEvent insert: %v", err)
	}

	return e
}

// SeedRetraction inserts an event.retracted row voiding the given
// event, with the type hint filled in.
func SeedRetraction(t *testing.T, pool *pgxpool.Pool, original domain.Event, ts time.Time) domain.Event {
	t.Helper()
	return SeedEvent(t, pool, original.UserID, domain.EventTypeRetracted, ts, map[string]any{
		"retracted_event_id":   original.ID.String(),
		"retracted_event_type": original.Type,
	})
}

// SeedRule inserts a projection_rule.created event carrying the rule
// definition.
func SeedRule(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID, ts time.Time, rule domain.ProjectionRule) domain.Event {
	t.Helper()
	return SeedEvent(t, pool, userID, domain.EventTypeRuleCreated, ts, map[string]any{
		"name":          rule.Name,
		"type":          string(rule.Type),
		"source_events": rule.SourceEvents,
		"fields":        rule.Fields,
		"group_by":      rule.GroupBy,
	})
}
