package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// RuleType selects the aggregation shape of a custom projection rule.
type RuleType string

const (
	RuleFieldTracking       RuleType = "field_tracking"
	RuleCategorizedTracking RuleType = "categorized_tracking"
)

// maxRuleFields caps how many fields one rule may track. Every field
// widens the generated aggregate queries by several columns.
const maxRuleFields = 10

// ProjectionRule is a user-authored declarative projection definition.
// Rules are not stored in a table: the active set is folded from
// projection_rule.created / projection_rule.archived events in timestamp
// order. A later created event with the same name fully replaces the
// earlier definition (last-write-wins, not merge); archived removes it.
type ProjectionRule struct {
	Name         string   `json:"name"`
	Type         RuleType `json:"type"`
	SourceEvents []string `json:"source_events"`
	Fields       []string `json:"fields"`
	GroupBy      string   `json:"group_by,omitempty"`
}

// RuleArchiveData is the payload of a projection_rule.archived event.
type RuleArchiveData struct {
	Name string `json:"name"`
}

// DecodeRule parses the payload of a projection_rule.created event.
// Invalid definitions are rejected here so the fold can skip them.
func DecodeRule(data json.RawMessage) (ProjectionRule, error) {
	var r ProjectionRule
	if err := json.Unmarshal(data, &r); err != nil {
		return ProjectionRule{}, fmt.Errorf("decode projection rule: %w", err)
	}
	if err := r.Validate(); err != nil {
		return ProjectionRule{}, err
	}
	return r, nil
}

// Validate checks the structural invariants of a rule definition.
func (r ProjectionRule) Validate() error {
	var errs []FieldError
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "is required"})
	}
	switch r.Type {
	case RuleFieldTracking, RuleCategorizedTracking:
	default:
		errs = append(errs, FieldError{Field: "type", Message: fmt.Sprintf("unknown rule type %q", r.Type)})
	}
	if len(r.SourceEvents) == 0 {
		errs = append(errs, FieldError{Field: "source_events", Message: "at least one source event is required"})
	}
	for _, se := range r.SourceEvents {
		// Reserved namespaces cannot be rule sources; retracting a
		// retraction or tracking rule-definition events is not supported.
		if se == EventTypeRetracted || strings.HasPrefix(se, "projection_rule.") {
			errs = append(errs, FieldError{Field: "source_events", Message: fmt.Sprintf("%q is a reserved event type", se)})
		}
	}
	if len(r.Fields) == 0 {
		errs = append(errs, FieldError{Field: "fields", Message: "at least one field is required"})
	}
	if len(r.Fields) > maxRuleFields {
		errs = append(errs, FieldError{Field: "fields", Message: fmt.Sprintf("at most %d fields are allowed", maxRuleFields)})
	}
	if r.Type == RuleCategorizedTracking && strings.TrimSpace(r.GroupBy) == "" {
		errs = append(errs, FieldError{Field: "group_by", Message: "is required for categorized_tracking"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// Matches reports whether the rule sources the given event type.
func (r ProjectionRule) Matches(eventType string) bool {
	return slices.Contains(r.SourceEvents, eventType)
}
