package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/orchestrator"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/jackc/pgx/v5"
)

var executionColumns = []string{
	"id", "workflow_id", "status", "trigger_data", "context_data",
	"input_tokens", "output_tokens", "started_at", "completed_at", "error_message", "created_at",
}

type executionRow struct {
	ID           core.ID    `db:"id"`
	WorkflowID   core.ID    `db:"workflow_id"`
	Status       string     `db:"status"`
	TriggerData  []byte     `db:"trigger_data"`
	ContextData  []byte     `db:"context_data"`
	InputTokens  int64      `db:"input_tokens"`
	OutputTokens int64      `db:"output_tokens"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage string     `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (r *executionRow) toExecution() (*workflow.Execution, error) {
	e := &workflow.Execution{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     core.StatusType(r.Status),
		Usage:      core.TokenUsage{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens},
		StartedAt:  r.StartedAt,
		CompletedAt: r.CompletedAt,
		ErrorMsg:   r.ErrorMessage,
		CreatedAt:  r.CreatedAt,
	}
	if err := decodeJSONB(r.TriggerData, &e.TriggerData); err != nil {
		return nil, err
	}
	if err := decodeJSONB(r.ContextData, &e.Context); err != nil {
		return nil, err
	}
	return e, nil
}

var stepStateColumns = []string{
	"execution_id", "step_order", "status", "attempts", "started_at", "completed_at", "error_message",
}

type stepStateRow struct {
	ExecutionID  core.ID    `db:"execution_id"`
	StepOrder    int        `db:"step_order"`
	Status       string     `db:"status"`
	Attempts     int        `db:"attempts"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage string     `db:"error_message"`
}

func (r *stepStateRow) toStepState() *orchestrator.StepState {
	return &orchestrator.StepState{
		ExecutionID:  r.ExecutionID,
		StepOrder:    r.StepOrder,
		Status:       core.StatusType(r.Status),
		Attempts:     r.Attempts,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ErrorMessage: r.ErrorMessage,
	}
}

// ExecutionRepo implements orchestrator.ExecutionRepository: WorkflowExecution
// rows plus their per-step StepState cursors, the durable orchestration frame
// any process can resume from.
type ExecutionRepo struct {
	db DB
}

// NewExecutionRepo builds an ExecutionRepo over db.
func NewExecutionRepo(db DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

// CreateExecution inserts a new execution row. Per-step cursors are absent
// until a step first becomes ready: GetStepStates/readyWave treat a missing
// row as PENDING, so step state rows are materialized lazily rather than
// pre-created here.
func (r *ExecutionRepo) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	triggerJSON, err := ToJSONB(exec.TriggerData)
	if err != nil {
		return err
	}
	contextJSON, err := ToJSONB(exec.Context)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("workflow_executions").
		Columns(executionColumns...).
		Values(
			exec.ID, exec.WorkflowID, string(exec.Status), triggerJSON, contextJSON,
			exec.Usage.InputTokens, exec.Usage.OutputTokens,
			exec.StartedAt, exec.CompletedAt, exec.ErrorMsg, exec.CreatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert execution: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites the mutable fields of an execution row.
func (r *ExecutionRepo) UpdateExecution(ctx context.Context, exec *workflow.Execution) error {
	contextJSON, err := ToJSONB(exec.Context)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Update("workflow_executions").
		Set("status", string(exec.Status)).
		Set("context_data", contextJSON).
		Set("input_tokens", exec.Usage.InputTokens).
		Set("output_tokens", exec.Usage.OutputTokens).
		Set("started_at", exec.StartedAt).
		Set("completed_at", exec.CompletedAt).
		Set("error_message", exec.ErrorMsg).
		Where(squirrel.Eq{"id": exec.ID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update execution: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	return nil
}

// GetExecution loads an execution by ID.
func (r *ExecutionRepo) GetExecution(ctx context.Context, id core.ID) (*workflow.Execution, error) {
	sql, args, err := squirrel.Select(executionColumns...).
		From("workflow_executions").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select execution: %w", err)
	}
	var row executionRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "workflow execution %s not found", id)
		}
		return nil, fmt.Errorf("scanning execution: %w", err)
	}
	return row.toExecution()
}

// GetStepStates returns every per-step cursor for executionID.
func (r *ExecutionRepo) GetStepStates(ctx context.Context, executionID core.ID) ([]*orchestrator.StepState, error) {
	sql, args, err := squirrel.Select(stepStateColumns...).
		From("workflow_step_states").
		Where(squirrel.Eq{"execution_id": executionID}).
		OrderBy("step_order").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select step states: %w", err)
	}
	var rows []stepStateRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning step states: %w", err)
	}
	out := make([]*orchestrator.StepState, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toStepState())
	}
	return out, nil
}

// SaveStepState upserts a single step's cursor.
func (r *ExecutionRepo) SaveStepState(ctx context.Context, state *orchestrator.StepState) error {
	sql, args, err := squirrel.Insert("workflow_step_states").
		Columns(stepStateColumns...).
		Values(
			state.ExecutionID, state.StepOrder, string(state.Status), state.Attempts,
			state.StartedAt, state.CompletedAt, state.ErrorMessage,
		).
		Suffix(
			"ON CONFLICT (execution_id, step_order) DO UPDATE SET "+
				"status = EXCLUDED.status, attempts = EXCLUDED.attempts, "+
				"started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at, "+
				"error_message = EXCLUDED.error_message",
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert step state: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upserting step state: %w", err)
	}
	return nil
}
