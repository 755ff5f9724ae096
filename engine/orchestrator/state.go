package orchestrator

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
)

// StepState is the persisted per-step cursor within one execution: the
// orchestrator's frame is entirely this table plus the execution's context,
// so any process can resume a parked execution.
type StepState struct {
	ExecutionID  core.ID         `json:"execution_id"`
	StepOrder    int             `json:"step_order"`
	Status       core.StatusType `json:"status"`
	Attempts     int             `json:"attempts"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// resolved reports whether a dependent may treat this step as settled:
// COMPLETED and SKIPPED both release downstream steps.
func (s *StepState) resolved() bool {
	return s.Status == core.StatusCompleted || s.Status == core.StatusSkipped
}

func newStepState(executionID core.ID, stepOrder int) *StepState {
	return &StepState{ExecutionID: executionID, StepOrder: stepOrder, Status: core.StatusPending}
}

func statesByOrder(states []*StepState) map[int]*StepState {
	m := make(map[int]*StepState, len(states))
	for _, s := range states {
		m[s.StepOrder] = s
	}
	return m
}
