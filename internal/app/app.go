package app

import (
	"context"
	"log/slog"
	"slices"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	eventrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/event"
	inferencerepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/inference"
	jobrepo "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/job"
	projstore "github.com/mkravets/fitpulse-backend/internal/adapter/postgres/projection"
	"github.com/mkravets/fitpulse-backend/internal/config"
	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
	"github.com/mkravets/fitpulse-backend/internal/projection/handlers"
	"github.com/mkravets/fitpulse-backend/internal/projection/rules"
	"github.com/mkravets/fitpulse-backend/internal/worker"
)

// Run is the projection-worker entry point. It loads configuration,
// connects to the database, builds the handler registry and dispatcher,
// and consumes background jobs until ctx is canceled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logger.Info("starting projection worker",
		slog.String("version", BuildVersion()),
		slog.Int("workers", cfg.Worker.Count),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	events := eventrepo.New(pool)
	projections := projstore.New(pool)
	jobs := jobrepo.New(pool)
	telemetry := inferencerepo.New(pool)

	registry, err := BuildRegistry(logger, pool, events, projections, cfg.Projection)
	if err != nil {
		return err
	}

	dispatcher := projection.NewDispatcher(
		logger,
		registry,
		postgres.NewTxManager(pool),
		projection.NewResolver(events),
		jobs,
		telemetry,
		cfg.Worker.MaxAttempts,
	)

	return worker.New(logger, jobs, dispatcher, cfg.Worker).Run(ctx)
}

// BuildRegistry constructs the closed handler table: the built-in
// handlers plus the custom-rule evaluator, which subscribes to the
// configured rule-source catalog and the rule-lifecycle events. A
// duplicate name is an init-time error.
func BuildRegistry(
	log *slog.Logger,
	db postgres.Querier,
	events *eventrepo.Repo,
	projections *projstore.Repo,
	cfg config.ProjectionConfig,
) (*projection.Registry, error) {
	registry := projection.NewRegistry()

	bodyComposition := handlers.NewBodyComposition(events, projections)
	if err := registry.Register(handlers.BodyCompositionName, bodyComposition.Events(), bodyComposition.Handle); err != nil {
		return nil, err
	}

	trainingLoad := handlers.NewTrainingLoad(events, projections)
	if err := registry.Register(handlers.TrainingLoadName, trainingLoad.Events(), trainingLoad.Handle); err != nil {
		return nil, err
	}

	exerciseStats := handlers.NewExerciseStats(events, projections)
	if err := registry.Register(handlers.ExerciseStatsName, exerciseStats.Events(), exerciseStats.Handle); err != nil {
		return nil, err
	}

	evaluator := rules.NewEvaluator(log, db, events, projections, cfg.RuleSourceEvents, cfg.RecentEntriesCap)
	ruleEvents := slices.Concat(cfg.RuleSourceEvents, []string{
		domain.EventTypeRuleCreated,
		domain.EventTypeRuleArchived,
	})
	if err := registry.Register(rules.EvaluatorName, ruleEvents, evaluator.Handle); err != nil {
		return nil, err
	}

	return registry, nil
}
