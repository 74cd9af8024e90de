// Package event implements the event-store repository using PostgreSQL.
// The store is append-only: the core reads events and appends retraction
// rows, nothing is ever updated or deleted. Dynamic filters (type lists,
// retracted-id exclusion) are composed with squirrel so every value is a
// bound parameter.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Repo provides event persistence backed by PostgreSQL.
type Repo struct {
	db postgres.Querier
}

// New creates a new event repository.
func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

// psql builds queries with PostgreSQL $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// eventColumns aliases event_type so scany maps it onto domain.Event.Type.
var eventColumns = []string{"id", "user_id", `event_type AS "type"`, "data", "metadata", "timestamp"}

const getByIDSQL = `
SELECT id, user_id, event_type AS "type", data, metadata, timestamp
FROM events
WHERE id = $1`

const retractedIDsSQL = `
SELECT (data->>'retracted_event_id')::uuid
FROM events
WHERE user_id = $1
  AND event_type = $2
  AND data->>'retracted_event_id' IS NOT NULL`

const appendSQL = `
INSERT INTO events (id, user_id, event_type, data, metadata, timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, event_type AS "type", data, metadata, timestamp`

// GetByID returns a single event by primary key.
// Returns domain.ErrNotFound if the event does not exist.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var e domain.Event
	if err := pgxscan.Get(ctx, q, &e, getByIDSQL, id); err != nil {
		return nil, postgres.MapError(err, "event", id)
	}
	return &e, nil
}

// Append inserts a new event row. The projection core uses this only for
// retraction events; ordinary domain events come from producers outside
// the core. Zero ID and Timestamp are filled in.
func (r *Repo) Append(ctx context.Context, e *domain.Event) (*domain.Event, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data := e.Data
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	var out domain.Event
	err := pgxscan.Get(ctx, q, &out, appendSQL, e.ID, e.UserID, e.Type, data, metadata, e.Timestamp)
	if err != nil {
		return nil, postgres.MapError(err, "event", e.ID)
	}
	return &out, nil
}

// RetractedIDs returns the accumulated set of event ids retracted for a
// user. Every event-store read in the projection core filters through
// this set — retraction is a standing invariant of all reads, not a
// special code path.
func (r *Repo) RetractedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var ids []uuid.UUID
	if err := pgxscan.Select(ctx, q, &ids, retractedIDsSQL, userID, domain.EventTypeRetracted); err != nil {
		return nil, fmt.Errorf("retracted ids for user %s: %w", userID, err)
	}
	return ids, nil
}

// ListSurviving returns the user's events of the given types that are not
// in the exclusion set, ordered by timestamp ascending (then id, to break
// ties deterministically). Passing the retracted-id set as exclude yields
// the surviving event set handlers must recompute from.
func (r *Repo) ListSurviving(ctx context.Context, userID uuid.UUID, types []string, exclude []uuid.UUID) ([]domain.Event, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if len(types) == 0 {
		return []domain.Event{}, nil
	}
	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	query := psql.Select(eventColumns...).
		From("events").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Eq{"event_type": types}).
		Where(squirrel.Expr("NOT (id = ANY(?))", exclude)).
		OrderBy("timestamp ASC", "id ASC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build surviving events query: %w", err)
	}

	var events []domain.Event
	if err := pgxscan.Select(ctx, q, &events, sql, args...); err != nil {
		return nil, fmt.Errorf("list surviving events for user %s: %w", userID, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}
