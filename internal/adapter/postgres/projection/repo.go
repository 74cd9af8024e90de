// Package projection implements the projection-store repository using
// PostgreSQL. Rows are keyed by (user_id, projection_type, key); version
// strictly increases on every successful write, even when data is
// byte-identical, and never resets.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Repo provides projection persistence backed by PostgreSQL.
type Repo struct {
	db postgres.Querier
}

// New creates a new projection repository.
func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

const getSQL = `
SELECT user_id, projection_type AS "type", key, data, version, updated_at
FROM projections
WHERE user_id = $1 AND projection_type = $2 AND key = $3`

const listByTypeSQL = `
SELECT user_id, projection_type AS "type", key, data, version, updated_at
FROM projections
WHERE user_id = $1 AND projection_type = $2
ORDER BY key`

const listKeysSQL = `
SELECT key FROM projections
WHERE user_id = $1 AND projection_type = $2
ORDER BY key`

const upsertSQL = `
INSERT INTO projections (user_id, projection_type, key, data, version, updated_at)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (user_id, projection_type, key)
DO UPDATE SET
    data = EXCLUDED.data,
    version = projections.version + 1,
    updated_at = EXCLUDED.updated_at
RETURNING user_id, projection_type AS "type", key, data, version, updated_at`

const deleteSQL = `
DELETE FROM projections
WHERE user_id = $1 AND projection_type = $2 AND key = $3`

// Get returns one projection row.
// Returns domain.ErrNotFound if it does not exist.
func (r *Repo) Get(ctx context.Context, userID uuid.UUID, ptype, key string) (*domain.Projection, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var p domain.Projection
	if err := pgxscan.Get(ctx, q, &p, getSQL, userID, ptype, key); err != nil {
		return nil, postgres.MapError(err, "projection", fmt.Sprintf("%s/%s/%s", userID, ptype, key))
	}
	return &p, nil
}

// ListByType returns all projection rows of one type for a user, ordered
// by key. This is the read surface downstream consumers query.
func (r *Repo) ListByType(ctx context.Context, userID uuid.UUID, ptype string) ([]domain.Projection, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var out []domain.Projection
	if err := pgxscan.Select(ctx, q, &out, listByTypeSQL, userID, ptype); err != nil {
		return nil, fmt.Errorf("list projections %s for user %s: %w", ptype, userID, err)
	}
	if out == nil {
		out = []domain.Projection{}
	}
	return out, nil
}

// ListKeys returns the existing keys of one projection type for a user.
// Handlers with per-entity keys use it to find rows whose contributing
// event set has vanished and must be deleted.
func (r *Repo) ListKeys(ctx context.Context, userID uuid.UUID, ptype string) ([]string, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var keys []string
	if err := pgxscan.Select(ctx, q, &keys, listKeysSQL, userID, ptype); err != nil {
		return nil, fmt.Errorf("list projection keys %s for user %s: %w", ptype, userID, err)
	}
	return keys, nil
}

// Upsert writes a projection row. A new row starts at version 1; an
// existing row gets its version bumped unconditionally so consumers can
// observe that a recomputation happened even when data did not change.
func (r *Repo) Upsert(ctx context.Context, p *domain.Projection) (*domain.Projection, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	key := p.Key
	if key == "" {
		key = domain.ProjectionKeyOverview
	}

	var out domain.Projection
	err := pgxscan.Get(ctx, q, &out, upsertSQL, p.UserID, p.Type, key, p.Data, time.Now().UTC())
	if err != nil {
		return nil, postgres.MapError(err, "projection", fmt.Sprintf("%s/%s/%s", p.UserID, p.Type, key))
	}
	return &out, nil
}

// Delete removes a projection row. Idempotent: deleting an absent row is
// not an error — recomputing an empty event set must converge on absence
// no matter how many times it runs.
func (r *Repo) Delete(ctx context.Context, userID uuid.UUID, ptype, key string) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if _, err := q.Exec(ctx, deleteSQL, userID, ptype, key); err != nil {
		return fmt.Errorf("delete projection %s/%s/%s: %w", userID, ptype, key, err)
	}
	return nil
}
