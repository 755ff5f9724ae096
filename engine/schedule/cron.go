// Package schedule implements the Scheduler: polling due
// WorkflowSchedule rows and firing workflow executions from cron expressions.
package schedule

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions plus an optional leading
// seconds field (6-field form) and @-descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression parses a 5- or 6-field cron string, returning a
// Validation error for anything malformed.
func ValidateCronExpression(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return core.NewError(err, core.CodeValidation, map[string]any{"cron": expr})
	}
	return nil
}

// NextFireAfter computes the next fire time strictly after from, per the
// cron expression. Firing is at-most-once per tick: the next value is always
// computed from "now", never from a missed instant.
func NextFireAfter(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, core.NewError(err, core.CodeValidation, map[string]any{"cron": expr})
	}
	return schedule.Next(from), nil
}
