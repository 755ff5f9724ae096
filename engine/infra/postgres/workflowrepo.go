package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/jackc/pgx/v5"
)

var workflowColumns = []string{
	"id", "name", "description", "trigger_kind", "trigger_config", "execution_mode",
	"input_schema", "interface_kind", "public", "active", "created_at", "updated_at",
}

type workflowRow struct {
	ID            core.ID   `db:"id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	TriggerKind   string    `db:"trigger_kind"`
	TriggerConfig []byte    `db:"trigger_config"`
	ExecutionMode string    `db:"execution_mode"`
	InputSchema   []byte    `db:"input_schema"`
	InterfaceKind string    `db:"interface_kind"`
	Public        bool      `db:"public"`
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var stepColumns = []string{
	"id", "workflow_id", "step_order", "kind", "agent_id", "display_name",
	"input_mapping", "output_variable", "condition_expr", "depends_on",
	"approval_config", "retry_config", "timeout_seconds",
}

type stepRow struct {
	ID             core.ID  `db:"id"`
	WorkflowID     core.ID  `db:"workflow_id"`
	StepOrder      int      `db:"step_order"`
	Kind           string   `db:"kind"`
	AgentID        *core.ID `db:"agent_id"`
	DisplayName    string   `db:"display_name"`
	InputMapping   []byte   `db:"input_mapping"`
	OutputVariable string   `db:"output_variable"`
	ConditionExpr  string   `db:"condition_expr"`
	DependsOn      []int32  `db:"depends_on"`
	ApprovalConfig []byte   `db:"approval_config"`
	RetryConfig    []byte   `db:"retry_config"`
	TimeoutSeconds int      `db:"timeout_seconds"`
}

func (r *stepRow) toStep() (*workflow.Step, error) {
	s := &workflow.Step{
		ID:             r.ID,
		WorkflowID:     r.WorkflowID,
		StepOrder:      r.StepOrder,
		Kind:           core.StepKind(r.Kind),
		AgentID:        r.AgentID,
		DisplayName:    r.DisplayName,
		OutputVariable: r.OutputVariable,
		ConditionExpr:  r.ConditionExpr,
		TimeoutSeconds: r.TimeoutSeconds,
	}
	s.DependsOn = make([]int, len(r.DependsOn))
	for i, v := range r.DependsOn {
		s.DependsOn[i] = int(v)
	}
	if err := decodeJSONB(r.InputMapping, &s.InputMapping); err != nil {
		return nil, err
	}
	// Approval/retry configs are optional: a NULL column must come back as a
	// nil pointer, not a zero-valued config.
	if err := FromJSONB(r.ApprovalConfig, &s.ApprovalConfig); err != nil {
		return nil, err
	}
	if err := FromJSONB(r.RetryConfig, &s.RetryConfig); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *workflowRow) toWorkflow() (*workflow.Workflow, error) {
	w := &workflow.Workflow{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		TriggerKind:   core.TriggerKind(r.TriggerKind),
		ExecutionMode: core.ExecutionMode(r.ExecutionMode),
		InterfaceKind: core.InterfaceKind(r.InterfaceKind),
		Public:        r.Public,
		Active:        r.Active,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := decodeJSONB(r.TriggerConfig, &w.TriggerConfig); err != nil {
		return nil, err
	}
	if err := decodeJSONB(r.InputSchema, &w.InputSchema); err != nil {
		return nil, err
	}
	return w, nil
}

// WorkflowRepo implements orchestrator.WorkflowRepository plus administrative
// CRUD for Workflow/WorkflowStep records.
type WorkflowRepo struct {
	db DB
}

// NewWorkflowRepo builds a WorkflowRepo over db.
func NewWorkflowRepo(db DB) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

// Create persists a workflow and its steps in one transaction.
func (r *WorkflowRepo) Create(ctx context.Context, w *workflow.Workflow) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertWorkflow(ctx, tx, w); err != nil {
			return err
		}
		for _, s := range w.Steps {
			if err := insertStep(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertWorkflow(ctx context.Context, tx pgx.Tx, w *workflow.Workflow) error {
	triggerJSON, err := ToJSONB(w.TriggerConfig)
	if err != nil {
		return err
	}
	schemaJSON, err := ToJSONB(map[string]any(w.InputSchema))
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("workflows").
		Columns(workflowColumns...).
		Values(
			w.ID, w.Name, w.Description, string(w.TriggerKind), triggerJSON, string(w.ExecutionMode),
			schemaJSON, string(w.InterfaceKind), w.Public, w.Active, w.CreatedAt, w.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert workflow: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	return nil
}

func insertStep(ctx context.Context, tx pgx.Tx, s *workflow.Step) error {
	mappingJSON, err := ToJSONB(s.InputMapping)
	if err != nil {
		return err
	}
	approvalJSON, err := ToJSONB(s.ApprovalConfig)
	if err != nil {
		return err
	}
	retryJSON, err := ToJSONB(s.RetryConfig)
	if err != nil {
		return err
	}
	dependsOn := make([]int32, len(s.DependsOn))
	for i, v := range s.DependsOn {
		dependsOn[i] = int32(v)
	}
	sql, args, err := squirrel.Insert("workflow_steps").
		Columns(stepColumns...).
		Values(
			s.ID, s.WorkflowID, s.StepOrder, string(s.Kind), s.AgentID, s.DisplayName,
			mappingJSON, s.OutputVariable, s.ConditionExpr, dependsOn,
			approvalJSON, retryJSON, s.TimeoutSeconds,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert step: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting step: %w", err)
	}
	return nil
}

// LoadWorkflow loads a workflow and then its steps with two separate queries;
// the two reads do not share a transaction.
func (r *WorkflowRepo) LoadWorkflow(ctx context.Context, id core.ID) (*workflow.Workflow, error) {
	wsql, wargs, err := squirrel.Select(workflowColumns...).
		From("workflows").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select workflow: %w", err)
	}
	var wrow workflowRow
	if err := scanOne(ctx, r.db, &wrow, wsql, wargs...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "workflow %s not found", id)
		}
		return nil, fmt.Errorf("scanning workflow: %w", err)
	}
	w, err := wrow.toWorkflow()
	if err != nil {
		return nil, err
	}
	ssql, sargs, err := squirrel.Select(stepColumns...).
		From("workflow_steps").
		Where(squirrel.Eq{"workflow_id": id}).
		OrderBy("step_order").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select steps: %w", err)
	}
	var srows []stepRow
	if err := scanAll(ctx, r.db, &srows, ssql, sargs...); err != nil {
		return nil, fmt.Errorf("scanning steps: %w", err)
	}
	w.Steps = make([]*workflow.Step, 0, len(srows))
	for i := range srows {
		s, err := srows[i].toStep()
		if err != nil {
			return nil, err
		}
		w.Steps = append(w.Steps, s)
	}
	return w, nil
}

// GetByName loads a workflow (without steps) by its unique name.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*workflow.Workflow, error) {
	sql, args, err := squirrel.Select(workflowColumns...).
		From("workflows").
		Where(squirrel.Eq{"name": name}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select workflow by name: %w", err)
	}
	var row workflowRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "workflow %q not found", name)
		}
		return nil, fmt.Errorf("scanning workflow: %w", err)
	}
	return row.toWorkflow()
}

// List returns every workflow row without its steps.
func (r *WorkflowRepo) List(ctx context.Context) ([]*workflow.Workflow, error) {
	sql, args, err := squirrel.Select(workflowColumns...).
		From("workflows").
		OrderBy("name").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list workflows: %w", err)
	}
	var rows []workflowRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning workflows: %w", err)
	}
	out := make([]*workflow.Workflow, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Deactivate soft-deactivates a workflow; referenced executions remain intact.
func (r *WorkflowRepo) Deactivate(ctx context.Context, id core.ID) error {
	sql, args, err := squirrel.Update("workflows").
		Set("active", false).
		Set("updated_at", core.Now()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building deactivate workflow: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("deactivating workflow: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction opened on db, rolling back on error or
// panic and committing otherwise.
func withTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	err = fn(tx)
	return err
}
