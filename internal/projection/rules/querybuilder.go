package rules

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// numericPattern guards the ::numeric cast inside aggregate FILTER
// clauses: only values matching it are fed to min/max/avg, so a text
// value in a tracked field can never abort the whole query.
const numericPattern = `^-?[0-9]+(\.[0-9]+)?$`

// Bucket selects the time-bucketing granularity of aggregate queries.
type Bucket string

const (
	BucketDay  Bucket = "day"
	BucketWeek Bucket = "iso_week"
)

// Builder composes the rule-evaluation queries. Every rule-supplied
// value — field names, the group_by field, event-type lists — is bound
// as a query parameter, never concatenated into the SQL text. Column
// aliases are positional (f0, f1, ...) and generated here, so nothing
// the rule author wrote ever appears in the query string.
type Builder struct {
	psql squirrel.StatementBuilderType
}

// NewBuilder creates a query builder with $n placeholders.
func NewBuilder() Builder {
	return Builder{psql: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// FieldAlias returns the positional alias under which field i's value
// is selected. The evaluator maps result columns back to rule field
// names through it.
func FieldAlias(i int) string {
	return fmt.Sprintf("f%d", i)
}

// base is the standing predicate of every rule query: the user's
// events of the rule's source types, minus the retracted-id set.
func (b Builder) base(userID uuid.UUID, sources []string, exclude []uuid.UUID) squirrel.SelectBuilder {
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	return b.psql.Select().
		From("events").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Eq{"event_type": sources}).
		Where(squirrel.Expr("NOT (id = ANY(?))", exclude))
}

// Total counts the surviving source events of a rule. Zero means the
// rule's projection row must be deleted, not rewritten empty.
func (b Builder) Total(userID uuid.UUID, sources []string, exclude []uuid.UUID) (string, []any, error) {
	return b.base(userID, sources, exclude).
		Column("count(*) AS total").
		ToSql()
}

// Recent selects the raw values of the tracked fields from the newest
// surviving events, reverse-chronological, capped at limit.
func (b Builder) Recent(userID uuid.UUID, sources []string, exclude []uuid.UUID, fields []string, limit uint64) (string, []any, error) {
	q := b.base(userID, sources, exclude).Column("timestamp")
	for i, f := range fields {
		q = q.Column(squirrel.Expr(fmt.Sprintf("data->>? AS %s", FieldAlias(i)), f))
	}
	return q.
		OrderBy("timestamp DESC", "id DESC").
		Limit(limit).
		ToSql()
}

// AllTime builds the single-row per-field summary: count of non-null
// occurrences plus min/max/avg over the values that parse as numbers.
func (b Builder) AllTime(userID uuid.UUID, sources []string, exclude []uuid.UUID, fields []string) (string, []any, error) {
	q := b.base(userID, sources, exclude)
	for i, f := range fields {
		a := FieldAlias(i)
		q = q.
			Column(squirrel.Expr(fmt.Sprintf("count(data->>?) AS %s_count", a), f)).
			Column(squirrel.Expr(numericAgg("min", a+"_min"), f, f)).
			Column(squirrel.Expr(numericAgg("max", a+"_max"), f, f)).
			Column(squirrel.Expr(numericAgg("avg", a+"_avg"), f, f))
	}
	return q.ToSql()
}

// Bucketed builds the time-bucketed per-field summary. Day buckets are
// calendar dates; week buckets are ISO weeks rendered as IYYY-"W"IW
// (e.g. 2026-W36).
func (b Builder) Bucketed(userID uuid.UUID, sources []string, exclude []uuid.UUID, fields []string, bucket Bucket) (string, []any, error) {
	var expr string
	switch bucket {
	case BucketDay:
		expr = `(timestamp::date)::text AS bucket`
	case BucketWeek:
		expr = `to_char(timestamp, 'IYYY-"W"IW') AS bucket`
	default:
		return "", nil, fmt.Errorf("unknown bucket granularity %q", bucket)
	}

	q := b.base(userID, sources, exclude).Column(expr)
	for i, f := range fields {
		a := FieldAlias(i)
		q = q.
			Column(squirrel.Expr(fmt.Sprintf("count(data->>?) AS %s_count", a), f)).
			Column(squirrel.Expr(numericAgg("avg", a+"_avg"), f, f))
	}
	return q.
		GroupBy("bucket").
		OrderBy("bucket ASC").
		ToSql()
}

// Categorized builds the grouped summary of a categorized_tracking
// rule. The category is the case-normalized value of the group_by
// field; events missing it fall into "_unknown". Per category, each
// tracked field gets a non-null count and a numeric avg (NULL when no
// value in the category parses as a number).
func (b Builder) Categorized(userID uuid.UUID, sources []string, exclude []uuid.UUID, fields []string, groupBy string) (string, []any, error) {
	q := b.base(userID, sources, exclude).
		Column(squirrel.Expr("lower(coalesce(nullif(data->>?, ''), '_unknown')) AS category", groupBy)).
		Column("count(*) AS total")
	for i, f := range fields {
		a := FieldAlias(i)
		q = q.
			Column(squirrel.Expr(fmt.Sprintf("count(data->>?) AS %s_count", a), f)).
			Column(squirrel.Expr(numericAgg("avg", a+"_avg"), f, f))
	}
	return q.
		GroupBy("category").
		OrderBy("category ASC").
		ToSql()
}

// numericAgg renders an aggregate over a field's numeric values. The
// FILTER keeps non-numeric text away from the cast; the float8 cast
// keeps the scan type plain. Both ? placeholders bind the same field
// name; fn and alias are builder-generated, never rule-supplied.
func numericAgg(fn, alias string) string {
	return fmt.Sprintf(
		"(%s((data->>?)::numeric) FILTER (WHERE data->>? ~ '%s'))::float8 AS %s",
		fn, numericPattern, alias,
	)
}
