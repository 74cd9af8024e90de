package rules

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

func ruleEvent(t *testing.T, eventType string, ts time.Time, payload any) domain.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Event{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Type:      eventType,
		Data:      data,
		Timestamp: ts,
	}
}

func TestFold_CreatedActivatesRule(t *testing.T) {
	now := time.Now()
	events := []domain.Event{
		ruleEvent(t, domain.EventTypeRuleCreated, now, domain.ProjectionRule{
			Name:         "caffeine",
			Type:         domain.RuleFieldTracking,
			SourceEvents: []string{"custom.caffeine.logged"},
			Fields:       []string{"mg"},
		}),
	}

	active := Fold(slog.New(slog.DiscardHandler), events)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"mg"}, active["caffeine"].Fields)
}

func TestFold_ArchivedRemovesRule(t *testing.T) {
	now := time.Now()
	events := []domain.Event{
		ruleEvent(t, domain.EventTypeRuleCreated, now, domain.ProjectionRule{
			Name:         "caffeine",
			Type:         domain.RuleFieldTracking,
			SourceEvents: []string{"custom.caffeine.logged"},
			Fields:       []string{"mg"},
		}),
		ruleEvent(t, domain.EventTypeRuleArchived, now.Add(time.Hour),
			domain.RuleArchiveData{Name: "caffeine"}),
	}

	active := Fold(slog.New(slog.DiscardHandler), events)
	assert.Empty(t, active)
}

func TestFold_RecreateReplacesNotMerges(t *testing.T) {
	now := time.Now()
	events := []domain.Event{
		ruleEvent(t, domain.EventTypeRuleCreated, now, domain.ProjectionRule{
			Name:         "caffeine",
			Type:         domain.RuleFieldTracking,
			SourceEvents: []string{"custom.caffeine.logged"},
			Fields:       []string{"mg", "source"},
		}),
		ruleEvent(t, domain.EventTypeRuleArchived, now.Add(time.Hour),
			domain.RuleArchiveData{Name: "caffeine"}),
		ruleEvent(t, domain.EventTypeRuleCreated, now.Add(2*time.Hour), domain.ProjectionRule{
			Name:         "caffeine",
			Type:         domain.RuleFieldTracking,
			SourceEvents: []string{"custom.caffeine.logged"},
			Fields:       []string{"mg_per_kg"},
		}),
	}

	active := Fold(slog.New(slog.DiscardHandler), events)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"mg_per_kg"}, active["caffeine"].Fields,
		"re-creation must carry only the new field set, not a union")
}

func TestFold_InvalidDefinitionSkipped(t *testing.T) {
	now := time.Now()
	events := []domain.Event{
		ruleEvent(t, domain.EventTypeRuleCreated, now, map[string]any{
			"name": "broken", "type": "no_such_type",
		}),
		ruleEvent(t, domain.EventTypeRuleCreated, now.Add(time.Minute), domain.ProjectionRule{
			Name:         "hydration",
			Type:         domain.RuleFieldTracking,
			SourceEvents: []string{"custom.hydration.logged"},
			Fields:       []string{"ml"},
		}),
	}

	active := Fold(slog.New(slog.DiscardHandler), events)
	require.Len(t, active, 1)
	assert.Contains(t, active, "hydration")
}
