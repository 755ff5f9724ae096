package orchestrator

import (
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/workflow"
)

// readyWave computes the set of steps whose dependencies are all terminal
// (COMPLETED or SKIPPED) and which have not themselves started.
func readyWave(steps []*workflow.Step, states map[int]*StepState) []*workflow.Step {
	var ready []*workflow.Step
	for _, step := range steps {
		state, ok := states[step.StepOrder]
		if !ok {
			state = newStepState("", step.StepOrder)
		}
		if state.Status != core.StatusPending {
			continue
		}
		if dependenciesSatisfied(step, states) {
			ready = append(ready, step)
		}
	}
	return ready
}

func dependenciesSatisfied(step *workflow.Step, states map[int]*StepState) bool {
	for _, dep := range step.DependsOn {
		state, ok := states[dep]
		if !ok || !state.resolved() {
			return false
		}
	}
	return true
}

// cloneTree deep-copies a JSON-shaped tree of maps, slices and scalars. Wave
// step tasks read from a clone so in-flight writes never race their reads.
func cloneTree(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneTree(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneTree(item)
		}
		return out
	default:
		return v
	}
}

// allTerminal reports whether every step has reached a terminal per-step status.
func allTerminal(steps []*workflow.Step, states map[int]*StepState) bool {
	for _, step := range steps {
		state, ok := states[step.StepOrder]
		if !ok || !state.Status.IsTerminal() {
			return false
		}
	}
	return true
}
