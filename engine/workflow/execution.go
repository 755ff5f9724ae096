package workflow

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
)

// ExecutionStatus is the lifecycle of a WorkflowExecution.
type ExecutionStatus = core.StatusType

// Execution is one run of a Workflow.
type Execution struct {
	ID          core.ID         `json:"id"`
	WorkflowID  core.ID         `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggerData map[string]any  `json:"trigger_data"`
	Context     map[string]any  `json:"context_data"`
	Usage       core.TokenUsage `json:"usage"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ErrorMsg    string          `json:"error_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewExecution opens a fresh execution row: status=RUNNING, context seeded
// with the trigger payload under the reserved `trigger` key.
func NewExecution(workflowID core.ID, triggerData map[string]any) *Execution {
	now := core.Now()
	return &Execution{
		ID:          core.NewID(),
		WorkflowID:  workflowID,
		Status:      core.StatusRunning,
		TriggerData: triggerData,
		Context: map[string]any{
			"trigger": triggerData,
			"meta":    map[string]any{},
		},
		StartedAt: &now,
		CreatedAt: now,
	}
}

// validTransitions encodes the execution state machine:
// PENDING -> RUNNING -> (AWAITING_APPROVAL <-> RUNNING)* -> {COMPLETED, FAILED, CANCELLED}.
var validTransitions = map[core.StatusType][]core.StatusType{
	core.StatusPending: {core.StatusRunning},
	core.StatusRunning: {
		core.StatusAwaitingApproval,
		core.StatusCompleted,
		core.StatusFailed,
		core.StatusCancelled,
	},
	core.StatusAwaitingApproval: {
		core.StatusRunning,
		core.StatusCancelled,
		core.StatusFailed,
	},
}

// CanTransitionTo reports whether moving from e.Status to next is legal.
func (e *Execution) CanTransitionTo(next core.StatusType) bool {
	for _, allowed := range validTransitions[e.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the execution to next, stamping CompletedAt for terminal
// states. Returns a Validation error for an illegal transition.
func (e *Execution) Transition(next core.StatusType) error {
	if !e.CanTransitionTo(next) {
		return core.NewErrorf(
			core.CodeValidation,
			"illegal workflow execution transition %s -> %s",
			e.Status, next,
		)
	}
	e.Status = next
	if next.IsTerminal() {
		now := core.Now()
		e.CompletedAt = &now
	}
	return nil
}

// MergeUsage accumulates a step's token usage into the execution total,
// mirroring the source repository's mergeable usage summaries.
func (e *Execution) MergeUsage(u core.TokenUsage) {
	e.Usage = e.Usage.Merge(u)
}
