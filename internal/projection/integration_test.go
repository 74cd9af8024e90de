//go:build integration

package projection_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	eventrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/event"
	inferencerepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/inference"
	jobrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/job"
	projstore "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/projection"
	"github.com/mkravets/fitpulse-backend/internal/adapter/postgres/testhelper"
	"github.com/mkravets/fitpulse-backend/internal/app"
	"github.com/mkravets/fitpulse-backend/internal/config"
	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
)

func integrationLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newDispatcher(t *testing.T, pool *pgxpool.Pool) (*projection.Dispatcher, *projstore.Repo) {
	t.Helper()

	log := integrationLogger()
	events := eventrepo.New(pool)
	projections := projstore.New(pool)

	registry, err := app.BuildRegistry(log, pool, events, projections, config.ProjectionConfig{
		RuleSourceEvents: []string{"custom.caffeine.logged"},
		RecentEntriesCap: 30,
	})
	require.NoError(t, err)

	d := projection.NewDispatcher(
		log,
		registry,
		postgres.NewTxManager(pool),
		projection.NewResolver(events),
		jobrepo.New(pool),
		inferencerepo.New(pool),
		5,
	)
	return d, projections
}

func TestDispatch_BodyCompositionLifecycle(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	d, projections := newDispatcher(t, pool)
	ctx := context.Background()

	userID := uuid.New()
	day1 := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	e1 := testhelper.SeedEvent(t, pool, userID, domain.EventTypeBodyweightLogged, day1,
		map[string]any{"weight_kg": 82.5})
	e2 := testhelper.SeedEvent(t, pool, userID, domain.EventTypeBodyweightLogged, day2,
		map[string]any{"weight_kg": 83.0})

	require.NoError(t, d.Dispatch(ctx, e1.Type, userID, e1.ID, nil))
	require.NoError(t, d.Dispatch(ctx, e2.Type, userID, e2.ID, nil))

	row, err := projections.Get(ctx, userID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	require.NoError(t, err)

	var data struct {
		TotalWeighIns   int      `json:"total_weigh_ins"`
		CurrentWeightKg *float64 `json:"current_weight_kg"`
	}
	require.NoError(t, json.Unmarshal(row.Data, &data))
	assert.Equal(t, 2, data.TotalWeighIns)
	require.NotNil(t, data.CurrentWeightKg)
	assert.Equal(t, 83.0, *data.CurrentWeightKg)

	// retract day 1 and redispatch the retraction
	r1 := testhelper.SeedRetraction(t, pool, e1, day2.Add(time.Hour))
	require.NoError(t, d.Dispatch(ctx, domain.EventTypeRetracted, userID, r1.ID, nil))

	row, err = projections.Get(ctx, userID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(row.Data, &data))
	assert.Equal(t, 1, data.TotalWeighIns)
	assert.Equal(t, 83.0, *data.CurrentWeightKg)

	// retract day 2 as well: the row must be gone, not empty
	r2 := testhelper.SeedRetraction(t, pool, e2, day2.Add(2*time.Hour))
	require.NoError(t, d.Dispatch(ctx, domain.EventTypeRetracted, userID, r2.ID, nil))

	_, err = projections.Get(ctx, userID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDispatch_VersionStrictlyIncreases(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	d, projections := newDispatcher(t, pool)
	ctx := context.Background()

	userID := uuid.New()
	e := testhelper.SeedEvent(t, pool, userID, domain.EventTypeBodyweightLogged,
		time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC), map[string]any{"weight_kg": 82.5})

	require.NoError(t, d.Dispatch(ctx, e.Type, userID, e.ID, nil))
	first, err := projections.Get(ctx, userID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(ctx, e.Type, userID, e.ID, nil))
	second, err := projections.Get(ctx, userID, domain.ProjectionBodyComposition, domain.ProjectionKeyOverview)
	require.NoError(t, err)

	assert.JSONEq(t, string(first.Data), string(second.Data),
		"unchanged event set must recompute identical data")
	assert.Greater(t, second.Version, first.Version)
}

func TestDispatch_CustomRuleProjection(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	d, projections := newDispatcher(t, pool)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)

	ruleEvent := testhelper.SeedRule(t, pool, userID, base, domain.ProjectionRule{
		Name:         "caffeine",
		Type:         domain.RuleFieldTracking,
		SourceEvents: []string{"custom.caffeine.logged"},
		Fields:       []string{"mg"},
	})
	c1 := testhelper.SeedEvent(t, pool, userID, "custom.caffeine.logged", base.Add(time.Hour),
		map[string]any{"mg": 95})
	c2 := testhelper.SeedEvent(t, pool, userID, "custom.caffeine.logged", base.Add(2*time.Hour),
		map[string]any{"mg": 180})

	require.NoError(t, d.Dispatch(ctx, ruleEvent.Type, userID, ruleEvent.ID, nil))
	require.NoError(t, d.Dispatch(ctx, c1.Type, userID, c1.ID, nil))
	require.NoError(t, d.Dispatch(ctx, c2.Type, userID, c2.ID, nil))

	row, err := projections.Get(ctx, userID, domain.ProjectionCustomRule, "caffeine")
	require.NoError(t, err)

	var data struct {
		AllTime map[string]struct {
			Count int64    `json:"count"`
			Min   *float64 `json:"min"`
			Max   *float64 `json:"max"`
		} `json:"all_time"`
	}
	require.NoError(t, json.Unmarshal(row.Data, &data))
	require.Contains(t, data.AllTime, "mg")
	assert.Equal(t, int64(2), data.AllTime["mg"].Count)
	require.NotNil(t, data.AllTime["mg"].Min)
	assert.Equal(t, 95.0, *data.AllTime["mg"].Min)
	assert.Equal(t, 180.0, *data.AllTime["mg"].Max)

	// archive the rule: the row disappears with it
	archive := testhelper.SeedEvent(t, pool, userID, domain.EventTypeRuleArchived,
		base.Add(3*time.Hour), map[string]any{"name": "caffeine"})
	require.NoError(t, d.Dispatch(ctx, archive.Type, userID, archive.ID, nil))

	_, err = projections.Get(ctx, userID, domain.ProjectionCustomRule, "caffeine")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDispatch_UnhandledEventIsNoOp(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	d, projections := newDispatcher(t, pool)
	ctx := context.Background()

	userID := uuid.New()
	require.NoError(t, d.Dispatch(ctx, "custom.untracked.logged", userID, uuid.New(), nil))

	rows, err := projections.ListByType(ctx, userID, domain.ProjectionCustomRule)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
