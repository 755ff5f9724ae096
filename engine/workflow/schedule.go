package workflow

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
)

// Schedule is a cron binding that triggers a Workflow.
type Schedule struct {
	ID            core.ID        `json:"id"`
	WorkflowID    core.ID        `json:"workflow_id"`
	CronExpr      string         `json:"cron_expression"`
	Enabled       bool           `json:"enabled"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt     time.Time      `json:"next_run_at"`
	TriggerData   map[string]any `json:"trigger_data"`
}

// NewSchedule constructs a Schedule, enabled by default.
func NewSchedule(workflowID core.ID, cronExpr string, nextRunAt time.Time) *Schedule {
	return &Schedule{
		ID:         core.NewID(),
		WorkflowID: workflowID,
		CronExpr:   cronExpr,
		Enabled:    true,
		NextRunAt:  nextRunAt,
	}
}

// AdvanceTo atomically records a fire at now and advances to next, enforcing
// the "next_run_at is recomputed strictly increasing" invariant.
func (s *Schedule) AdvanceTo(now time.Time, next time.Time) error {
	if !next.After(s.NextRunAt) {
		return core.NewErrorf(
			core.CodeValidation,
			"next_run_at must strictly increase: had %s, computed %s",
			s.NextRunAt, next,
		)
	}
	s.LastRunAt = &now
	s.NextRunAt = next
	return nil
}
