//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/adapter/postgres/testhelper"
)

// A server-side statement error inside a savepoint rolls back only the
// savepoint: later savepoints in the same transaction and the final
// commit still succeed. Without the savepoint the first error would
// leave the transaction aborted (SQLSTATE 25P02) and everything after
// it would fail.
func TestRunIsolated_ContainsServerSideError(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	txm := postgres.NewTxManager(pool)
	ctx := context.Background()

	userID := uuid.New()

	err := txm.RunInLockedTx(ctx, 42, func(ctx context.Context) error {
		failed := txm.RunIsolated(ctx, func(ctx context.Context) error {
			q := postgres.QuerierFromCtx(ctx, pool)
			// user_id is NOT NULL, so this fails on the server.
			_, err := q.Exec(ctx,
				`INSERT INTO events (id, user_id, event_type) VALUES ($1, NULL, 'bodyweight.logged')`,
				uuid.New())
			return err
		})
		require.Error(t, failed, "the bad insert must be rejected")

		return txm.RunIsolated(ctx, func(ctx context.Context) error {
			q := postgres.QuerierFromCtx(ctx, pool)
			_, err := q.Exec(ctx,
				`INSERT INTO events (id, user_id, event_type, data)
				 VALUES ($1, $2, 'bodyweight.logged', '{"weight_kg": 82.5}')`,
				uuid.New(), userID)
			return err
		})
	})
	require.NoError(t, err, "the contained error must not poison the commit")

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM events WHERE user_id = $1`, userID).Scan(&count))
	assert.Equal(t, 1, count, "the write after the contained error is committed")
}
