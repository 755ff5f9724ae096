package schedule

import (
	"context"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/workflow"
)

// ManagerRepository persists the WorkflowSchedule CRUD the Schedule commands
// (Create, Cancel, Reactivate, UpdateCron, UpdateTriggerData, ListForWorkflow)
// drive, as distinct from the narrower Repository the tick loop itself polls.
type ManagerRepository interface {
	Create(ctx context.Context, s *workflow.Schedule) error
	Get(ctx context.Context, id core.ID) (*workflow.Schedule, error)
	ListByWorkflow(ctx context.Context, workflowID core.ID) ([]*workflow.Schedule, error)
	SetEnabled(ctx context.Context, id core.ID, enabled bool) error
	// UpdateCron installs a new cron expression and the next_run_at already
	// recomputed from it, per "next_run_at is recomputed ... whenever the
	// schedule fires or is edited".
	UpdateCron(ctx context.Context, id core.ID, cronExpr string, nextRunAt time.Time) error
	// UpdateTriggerData replaces the payload fired on the schedule's next
	// tick and the next_run_at recomputed alongside it, same invariant.
	UpdateTriggerData(ctx context.Context, id core.ID, triggerData map[string]any, nextRunAt time.Time) error
}

// Manager implements the Schedule commands: Create/Cancel/Reactivate/
// UpdateCron/UpdateTriggerData/ListForWorkflow.
type Manager struct {
	repo ManagerRepository
}

// NewManager wires a Manager to its repository.
func NewManager(repo ManagerRepository) *Manager {
	return &Manager{repo: repo}
}

// Create validates cronExpr, computes the first next_run_at from now, and
// persists a new enabled schedule bound to workflowID.
func (m *Manager) Create(
	ctx context.Context,
	workflowID core.ID,
	cronExpr string,
	triggerData map[string]any,
) (*workflow.Schedule, error) {
	if err := ValidateCronExpression(cronExpr); err != nil {
		return nil, err
	}
	next, err := NextFireAfter(cronExpr, core.Now())
	if err != nil {
		return nil, err
	}
	s := workflow.NewSchedule(workflowID, cronExpr, next)
	s.TriggerData = triggerData
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Cancel disables a schedule so the Scheduler's tick loop skips it.
func (m *Manager) Cancel(ctx context.Context, id core.ID) error {
	return m.repo.SetEnabled(ctx, id, false)
}

// Reactivate re-enables a previously cancelled schedule.
func (m *Manager) Reactivate(ctx context.Context, id core.ID) error {
	return m.repo.SetEnabled(ctx, id, true)
}

// UpdateCron validates and installs a new cron expression, recomputing
// next_run_at from now, per the "...or edited" invariant.
func (m *Manager) UpdateCron(ctx context.Context, id core.ID, cronExpr string) error {
	if err := ValidateCronExpression(cronExpr); err != nil {
		return err
	}
	next, err := NextFireAfter(cronExpr, core.Now())
	if err != nil {
		return err
	}
	return m.repo.UpdateCron(ctx, id, cronExpr, next)
}

// UpdateTriggerData replaces the payload a schedule fires with on its next
// tick. next_run_at is recomputed alongside it from the schedule's existing
// cron expression, per the same "...or edited" invariant.
func (m *Manager) UpdateTriggerData(ctx context.Context, id core.ID, triggerData map[string]any) error {
	sched, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	next, err := NextFireAfter(sched.CronExpr, core.Now())
	if err != nil {
		return err
	}
	return m.repo.UpdateTriggerData(ctx, id, triggerData, next)
}

// ListForWorkflow lists every schedule bound to workflowID.
func (m *Manager) ListForWorkflow(ctx context.Context, workflowID core.ID) ([]*workflow.Schedule, error) {
	return m.repo.ListByWorkflow(ctx, workflowID)
}
