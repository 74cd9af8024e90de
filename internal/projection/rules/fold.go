// Package rules implements user-authored declarative projections: the
// rule model fold, the parameterized query builder, and the evaluator
// that materializes custom_rule projection rows.
//
// There is no rules table. The active rule set is folded from
// projection_rule.created / projection_rule.archived events on every
// evaluation, which gives rules the same retraction and replay
// consistency as every other projection input.
package rules

import (
	"encoding/json"
	"log/slog"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Fold derives the active rule set from rule-lifecycle events, which
// must be in timestamp order. A created event upserts the named rule; a
// later created with the same name fully replaces the earlier
// definition, it does not merge. An archived event removes the name.
// Malformed definitions are skipped with a warning so one bad event
// cannot wedge every rule evaluation for the user.
func Fold(log *slog.Logger, events []domain.Event) map[string]domain.ProjectionRule {
	active := make(map[string]domain.ProjectionRule)
	for _, e := range events {
		switch e.Type {
		case domain.EventTypeRuleCreated:
			rule, err := domain.DecodeRule(e.Data)
			if err != nil {
				log.Warn("skipping invalid projection rule",
					slog.String("event_id", e.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			active[rule.Name] = rule
		case domain.EventTypeRuleArchived:
			var a domain.RuleArchiveData
			if err := json.Unmarshal(e.Data, &a); err != nil {
				log.Warn("skipping invalid rule archive",
					slog.String("event_id", e.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			delete(active, a.Name)
		}
	}
	return active
}
