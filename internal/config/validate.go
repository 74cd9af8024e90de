package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints and parses derived fields.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns (%d) must be >= database.min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1, got %d", c.Worker.Count)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.BackoffMax < c.Worker.BackoffBase {
		return fmt.Errorf("worker.backoff_max (%s) must be >= worker.backoff_base (%s)",
			c.Worker.BackoffMax, c.Worker.BackoffBase)
	}

	if c.Projection.RecentEntriesCap < 1 {
		return fmt.Errorf("projection.recent_entries_cap must be >= 1, got %d",
			c.Projection.RecentEntriesCap)
	}

	c.Projection.RuleSourceEvents = c.Projection.RuleSourceEvents[:0]
	for _, raw := range strings.Split(c.Projection.RuleSourceEventsRaw, ",") {
		et := strings.TrimSpace(raw)
		if et == "" {
			continue
		}
		c.Projection.RuleSourceEvents = append(c.Projection.RuleSourceEvents, et)
	}

	return nil
}
