package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/workflow"
)

var scheduleColumns = []string{
	"id", "workflow_id", "cron_expr", "enabled", "last_run_at", "next_run_at", "trigger_data",
}

type scheduleRow struct {
	ID          core.ID    `db:"id"`
	WorkflowID  core.ID    `db:"workflow_id"`
	CronExpr    string     `db:"cron_expr"`
	Enabled     bool       `db:"enabled"`
	LastRunAt   *time.Time `db:"last_run_at"`
	NextRunAt   time.Time  `db:"next_run_at"`
	TriggerData []byte     `db:"trigger_data"`
}

func (r *scheduleRow) toSchedule() (*workflow.Schedule, error) {
	s := &workflow.Schedule{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		CronExpr:   r.CronExpr,
		Enabled:    r.Enabled,
		LastRunAt:  r.LastRunAt,
		NextRunAt:  r.NextRunAt,
	}
	if err := decodeJSONB(r.TriggerData, &s.TriggerData); err != nil {
		return nil, err
	}
	return s, nil
}

// ScheduleRepo implements schedule.Repository against the workflow_schedules
// table, using an optimistic `WHERE next_run_at=<observed>` update for
// AdvanceTick so two scheduler instances racing the same tick don't both
// fire it.
type ScheduleRepo struct {
	db DB
}

// NewScheduleRepo builds a ScheduleRepo over db.
func NewScheduleRepo(db DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// Create inserts a new schedule row.
func (r *ScheduleRepo) Create(ctx context.Context, s *workflow.Schedule) error {
	triggerJSON, err := ToJSONB(s.TriggerData)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("workflow_schedules").
		Columns(scheduleColumns...).
		Values(s.ID, s.WorkflowID, s.CronExpr, s.Enabled, s.LastRunAt, s.NextRunAt, triggerJSON).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert schedule: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// ListDue returns every enabled schedule whose next_run_at has passed.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]*workflow.Schedule, error) {
	sql, args, err := squirrel.Select(scheduleColumns...).
		From("workflow_schedules").
		Where(squirrel.Eq{"enabled": true}).
		Where(squirrel.LtOrEq{"next_run_at": now}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list due schedules: %w", err)
	}
	var rows []scheduleRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning due schedules: %w", err)
	}
	out := make([]*workflow.Schedule, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toSchedule()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AdvanceTick performs the optimistic last_run_at/next_run_at transition,
// returning the number of rows affected so the Scheduler can detect a race.
func (r *ScheduleRepo) AdvanceTick(
	ctx context.Context,
	id core.ID,
	observedNextRunAt, lastRunAt, nextRunAt time.Time,
) (int64, error) {
	sql, args, err := squirrel.Update("workflow_schedules").
		Set("last_run_at", lastRunAt).
		Set("next_run_at", nextRunAt).
		Where(squirrel.Eq{"id": id, "next_run_at": observedNextRunAt}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building advance schedule tick: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("advancing schedule tick: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get loads a schedule by ID.
func (r *ScheduleRepo) Get(ctx context.Context, id core.ID) (*workflow.Schedule, error) {
	sql, args, err := squirrel.Select(scheduleColumns...).
		From("workflow_schedules").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select schedule: %w", err)
	}
	var row scheduleRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}
	return row.toSchedule()
}

// ListByWorkflow returns every schedule bound to workflowID.
func (r *ScheduleRepo) ListByWorkflow(ctx context.Context, workflowID core.ID) ([]*workflow.Schedule, error) {
	sql, args, err := squirrel.Select(scheduleColumns...).
		From("workflow_schedules").
		Where(squirrel.Eq{"workflow_id": workflowID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list schedules by workflow: %w", err)
	}
	var rows []scheduleRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning schedules: %w", err)
	}
	out := make([]*workflow.Schedule, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toSchedule()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SetEnabled toggles a schedule's enabled flag.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, id core.ID, enabled bool) error {
	sql, args, err := squirrel.Update("workflow_schedules").
		Set("enabled", enabled).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set schedule enabled: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("setting schedule enabled: %w", err)
	}
	return nil
}

// UpdateCron installs a new cron expression and the next_run_at the caller
// already recomputed from it.
func (r *ScheduleRepo) UpdateCron(ctx context.Context, id core.ID, cronExpr string, nextRunAt time.Time) error {
	sql, args, err := squirrel.Update("workflow_schedules").
		Set("cron_expr", cronExpr).
		Set("next_run_at", nextRunAt).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update schedule cron: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating schedule cron: %w", err)
	}
	return nil
}

// UpdateTriggerData replaces the trigger payload and the next_run_at the
// caller already recomputed alongside it.
func (r *ScheduleRepo) UpdateTriggerData(
	ctx context.Context,
	id core.ID,
	triggerData map[string]any,
	nextRunAt time.Time,
) error {
	triggerJSON, err := ToJSONB(triggerData)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Update("workflow_schedules").
		Set("trigger_data", triggerJSON).
		Set("next_run_at", nextRunAt).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update schedule trigger data: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating schedule trigger data: %w", err)
	}
	return nil
}
