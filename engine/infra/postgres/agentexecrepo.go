package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/agentexec"
)

var agentExecColumns = []string{
	"id", "agent_id", "workflow_execution_id", "workflow_step_id", "status",
	"input", "output", "input_tokens", "output_tokens", "execution_time_ms",
	"error_message", "started_at", "completed_at",
}

// AgentExecRepo implements agentexec.ExecutionRepository: the AgentExecution
// record an Agent Execution Engine run is persisted across.
type AgentExecRepo struct {
	db DB
}

// NewAgentExecRepo builds an AgentExecRepo over db.
func NewAgentExecRepo(db DB) *AgentExecRepo {
	return &AgentExecRepo{db: db}
}

// Create opens an AgentExecution row (status RUNNING, started_at=now).
func (r *AgentExecRepo) Create(ctx context.Context, exec *agentexec.Execution) error {
	inputJSON, err := ToJSONB(exec.Input)
	if err != nil {
		return err
	}
	outputJSON, err := ToJSONB(exec.Output)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("agent_executions").
		Columns(agentExecColumns...).
		Values(
			exec.ID, exec.AgentID, exec.WorkflowExecID, exec.WorkflowStepID, string(exec.Status),
			inputJSON, outputJSON, exec.Usage.InputTokens, exec.Usage.OutputTokens, exec.ExecutionTimeMs,
			exec.ErrorMessage, exec.StartedAt, exec.CompletedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert agent execution: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting agent execution: %w", err)
	}
	return nil
}

// Update overwrites the terminal fields of an AgentExecution row.
func (r *AgentExecRepo) Update(ctx context.Context, exec *agentexec.Execution) error {
	outputJSON, err := ToJSONB(exec.Output)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Update("agent_executions").
		Set("status", string(exec.Status)).
		Set("output", outputJSON).
		Set("input_tokens", exec.Usage.InputTokens).
		Set("output_tokens", exec.Usage.OutputTokens).
		Set("execution_time_ms", exec.ExecutionTimeMs).
		Set("error_message", exec.ErrorMessage).
		Set("completed_at", exec.CompletedAt).
		Where(squirrel.Eq{"id": exec.ID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update agent execution: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating agent execution: %w", err)
	}
	return nil
}
