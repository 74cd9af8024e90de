package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	postgres "github.com/mkravets/fitpulse-backend/internal/adapter/postgres"
	"github.com/mkravets/fitpulse-backend/internal/domain"
	"github.com/mkravets/fitpulse-backend/internal/projection"
)

// EventSource is the event-store surface the evaluator reads.
type EventSource interface {
	RetractedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListSurviving(ctx context.Context, userID uuid.UUID, types []string, exclude []uuid.UUID) ([]domain.Event, error)
}

// ProjectionStore is the projection-store surface the evaluator writes.
type ProjectionStore interface {
	Upsert(ctx context.Context, p *domain.Projection) (*domain.Projection, error)
	Delete(ctx context.Context, userID uuid.UUID, ptype, key string) error
	ListKeys(ctx context.Context, userID uuid.UUID, ptype string) ([]string, error)
}

// EvaluatorName is the stable registry name of the custom-rule
// evaluator serialized into retry jobs.
const EvaluatorName = "custom_rule"

// lifecycleEvents are the rule-definition events the fold consumes.
var lifecycleEvents = []string{domain.EventTypeRuleCreated, domain.EventTypeRuleArchived}

// Evaluator materializes custom_rule projections from user-authored
// rules. It is registered in the handler registry once per configured
// rule-source event type plus the rule-lifecycle types, so events
// outside that catalog never reach it (and never touch the database).
type Evaluator struct {
	log       *slog.Logger
	db        postgres.Querier
	events    EventSource
	store     ProjectionStore
	builder   Builder
	catalog   map[string]struct{}
	recentCap int
}

// NewEvaluator wires a custom-rule evaluator. sourceCatalog is the set
// of event types the evaluator is registered for; rules sourcing types
// outside it are skipped (see dropUncatalogued). recentCap bounds the
// raw entry list a field_tracking projection keeps.
func NewEvaluator(log *slog.Logger, db postgres.Querier, events EventSource, store ProjectionStore, sourceCatalog []string, recentCap int) *Evaluator {
	catalog := make(map[string]struct{}, len(sourceCatalog))
	for _, et := range sourceCatalog {
		catalog[et] = struct{}{}
	}
	return &Evaluator{
		log:       log,
		db:        db,
		events:    events,
		store:     store,
		builder:   NewBuilder(),
		catalog:   catalog,
		recentCap: recentCap,
	}
}

// Handle recomputes custom-rule projections for one dispatched event.
//
// The active rule set is folded fresh from the surviving lifecycle
// events on every call. A rule-lifecycle event re-evaluates every
// active rule and prunes projection rows for names no longer active;
// any other event re-evaluates only the rules sourcing its type.
func (e *Evaluator) Handle(ctx context.Context, p projection.Payload) error {
	exclude, err := e.events.RetractedIDs(ctx, p.UserID)
	if err != nil {
		return err
	}

	lifecycle, err := e.events.ListSurviving(ctx, p.UserID, lifecycleEvents, exclude)
	if err != nil {
		return err
	}
	active := Fold(e.log, lifecycle)
	e.dropUncatalogued(active)

	switch p.EventType {
	case domain.EventTypeRuleCreated, domain.EventTypeRuleArchived:
		for _, name := range sortedNames(active) {
			if err := e.evaluate(ctx, p.UserID, active[name], exclude); err != nil {
				return err
			}
		}
		return e.pruneInactive(ctx, p.UserID, active)
	default:
		for _, name := range sortedNames(active) {
			rule := active[name]
			if !rule.Matches(p.EventType) {
				continue
			}
			if err := e.evaluate(ctx, p.UserID, rule, exclude); err != nil {
				return err
			}
		}
		return nil
	}
}

// dropUncatalogued removes rules sourcing event types outside the
// configured catalog, like the fold skips invalid definitions. The
// dispatcher only routes catalogued types here, so such a rule would be
// computed once on creation and then never refreshed when its source
// events arrive; treating it as inactive keeps it from writing a row
// that goes permanently stale (and prunes any row it already wrote).
func (e *Evaluator) dropUncatalogued(active map[string]domain.ProjectionRule) {
	for name, rule := range active {
		for _, se := range rule.SourceEvents {
			if _, ok := e.catalog[se]; ok {
				continue
			}
			e.log.Warn("skipping rule with uncatalogued source event",
				slog.String("rule", name),
				slog.String("event_type", se))
			delete(active, name)
			break
		}
	}
}

// pruneInactive deletes custom_rule rows whose rule name is no longer
// in the active set, so archiving a rule removes its projection.
func (e *Evaluator) pruneInactive(ctx context.Context, userID uuid.UUID, active map[string]domain.ProjectionRule) error {
	keys, err := e.store.ListKeys(ctx, userID, domain.ProjectionCustomRule)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := active[key]; ok {
			continue
		}
		if err := e.store.Delete(ctx, userID, domain.ProjectionCustomRule, key); err != nil {
			return err
		}
	}
	return nil
}

// evaluate recomputes one rule's projection row from the surviving
// source-event set. An empty set deletes the row.
func (e *Evaluator) evaluate(ctx context.Context, userID uuid.UUID, rule domain.ProjectionRule, exclude []uuid.UUID) error {
	total, err := e.total(ctx, userID, rule, exclude)
	if err != nil {
		return err
	}
	if total == 0 {
		return e.store.Delete(ctx, userID, domain.ProjectionCustomRule, rule.Name)
	}

	var data any
	switch rule.Type {
	case domain.RuleFieldTracking:
		data, err = e.fieldTracking(ctx, userID, rule, exclude)
	case domain.RuleCategorizedTracking:
		data, err = e.categorizedTracking(ctx, userID, rule, exclude)
	default:
		return fmt.Errorf("rule %q: unknown rule type %q", rule.Name, rule.Type)
	}
	if err != nil {
		return fmt.Errorf("evaluate rule %q: %w", rule.Name, err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal rule %q projection: %w", rule.Name, err)
	}
	_, err = e.store.Upsert(ctx, &domain.Projection{
		UserID: userID,
		Type:   domain.ProjectionCustomRule,
		Key:    rule.Name,
		Data:   raw,
	})
	return err
}

// ---------------------------------------------------------------------------
// Projection data shapes. Structs and sorted-key maps keep the marshaled
// form deterministic for an unchanged event set.
// ---------------------------------------------------------------------------

type fieldSummary struct {
	Count int64    `json:"count"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
}

type bucketFieldSummary struct {
	Count int64    `json:"count"`
	Avg   *float64 `json:"avg"`
}

type recentEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

type bucketSummary struct {
	Bucket string                        `json:"bucket"`
	Fields map[string]bucketFieldSummary `json:"fields"`
}

type categorySummary struct {
	Count  int64                         `json:"count"`
	Fields map[string]bucketFieldSummary `json:"fields"`
}

type fieldTrackingData struct {
	Rule         string                  `json:"rule"`
	Type         domain.RuleType         `json:"type"`
	SourceEvents []string                `json:"source_events"`
	Recent       []recentEntry           `json:"recent"`
	AllTime      map[string]fieldSummary `json:"all_time"`
	Weekly       []bucketSummary         `json:"weekly"`
}

type categorizedData struct {
	Rule         string                     `json:"rule"`
	Type         domain.RuleType            `json:"type"`
	SourceEvents []string                   `json:"source_events"`
	GroupBy      string                     `json:"group_by"`
	Categories   map[string]categorySummary `json:"categories"`
}

func (e *Evaluator) total(ctx context.Context, userID uuid.UUID, rule domain.ProjectionRule, exclude []uuid.UUID) (int64, error) {
	sql, args, err := e.builder.Total(userID, rule.SourceEvents, exclude)
	if err != nil {
		return 0, fmt.Errorf("build total query: %w", err)
	}
	q := postgres.QuerierFromCtx(ctx, e.db)
	var total int64
	if err := pgxscan.Get(ctx, q, &total, sql, args...); err != nil {
		return 0, fmt.Errorf("count rule %q events: %w", rule.Name, err)
	}
	return total, nil
}

func (e *Evaluator) fieldTracking(ctx context.Context, userID uuid.UUID, rule domain.ProjectionRule, exclude []uuid.UUID) (*fieldTrackingData, error) {
	q := postgres.QuerierFromCtx(ctx, e.db)

	sql, args, err := e.builder.Recent(userID, rule.SourceEvents, exclude, rule.Fields, uint64(e.recentCap))
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}
	var recentRows []map[string]any
	if err := pgxscan.Select(ctx, q, &recentRows, sql, args...); err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}

	recent := make([]recentEntry, 0, len(recentRows))
	for _, row := range recentRows {
		entry := recentEntry{Values: make(map[string]any, len(rule.Fields))}
		if ts, ok := row["timestamp"].(time.Time); ok {
			entry.Timestamp = ts
		}
		for i, f := range rule.Fields {
			entry.Values[f] = row[FieldAlias(i)]
		}
		recent = append(recent, entry)
	}

	sql, args, err = e.builder.AllTime(userID, rule.SourceEvents, exclude, rule.Fields)
	if err != nil {
		return nil, fmt.Errorf("build all-time query: %w", err)
	}
	var allTimeRow map[string]any
	if err := pgxscan.Get(ctx, q, &allTimeRow, sql, args...); err != nil {
		return nil, fmt.Errorf("query all-time summary: %w", err)
	}

	allTime := make(map[string]fieldSummary, len(rule.Fields))
	for i, f := range rule.Fields {
		a := FieldAlias(i)
		allTime[f] = fieldSummary{
			Count: asInt64(allTimeRow[a+"_count"]),
			Min:   asFloat(allTimeRow[a+"_min"]),
			Max:   asFloat(allTimeRow[a+"_max"]),
			Avg:   asFloat(allTimeRow[a+"_avg"]),
		}
	}

	sql, args, err = e.builder.Bucketed(userID, rule.SourceEvents, exclude, rule.Fields, BucketWeek)
	if err != nil {
		return nil, fmt.Errorf("build weekly query: %w", err)
	}
	var weeklyRows []map[string]any
	if err := pgxscan.Select(ctx, q, &weeklyRows, sql, args...); err != nil {
		return nil, fmt.Errorf("query weekly summary: %w", err)
	}

	weekly := make([]bucketSummary, 0, len(weeklyRows))
	for _, row := range weeklyRows {
		b := bucketSummary{Fields: make(map[string]bucketFieldSummary, len(rule.Fields))}
		if s, ok := row["bucket"].(string); ok {
			b.Bucket = s
		}
		for i, f := range rule.Fields {
			a := FieldAlias(i)
			b.Fields[f] = bucketFieldSummary{
				Count: asInt64(row[a+"_count"]),
				Avg:   asFloat(row[a+"_avg"]),
			}
		}
		weekly = append(weekly, b)
	}

	return &fieldTrackingData{
		Rule:         rule.Name,
		Type:         rule.Type,
		SourceEvents: rule.SourceEvents,
		Recent:       recent,
		AllTime:      allTime,
		Weekly:       weekly,
	}, nil
}

func (e *Evaluator) categorizedTracking(ctx context.Context, userID uuid.UUID, rule domain.ProjectionRule, exclude []uuid.UUID) (*categorizedData, error) {
	q := postgres.QuerierFromCtx(ctx, e.db)

	sql, args, err := e.builder.Categorized(userID, rule.SourceEvents, exclude, rule.Fields, rule.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("build categorized query: %w", err)
	}
	var rows []map[string]any
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}

	categories := make(map[string]categorySummary, len(rows))
	for _, row := range rows {
		cat, _ := row["category"].(string)
		summary := categorySummary{
			Count:  asInt64(row["total"]),
			Fields: make(map[string]bucketFieldSummary, len(rule.Fields)),
		}
		for i, f := range rule.Fields {
			a := FieldAlias(i)
			summary.Fields[f] = bucketFieldSummary{
				Count: asInt64(row[a+"_count"]),
				Avg:   asFloat(row[a+"_avg"]),
			}
		}
		categories[cat] = summary
	}

	return &categorizedData{
		Rule:         rule.Name,
		Type:         rule.Type,
		SourceEvents: rule.SourceEvents,
		GroupBy:      rule.GroupBy,
		Categories:   categories,
	}, nil
}

func sortedNames(rules map[string]domain.ProjectionRule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	default:
		return nil
	}
}
