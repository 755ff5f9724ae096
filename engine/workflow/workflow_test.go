package workflow_test

import (
	"testing"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schema"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentStep(order int, dependsOn ...int) *workflow.Step {
	agentID := core.NewID()
	return &workflow.Step{
		StepOrder: order,
		Kind:      core.StepAgentExecution,
		AgentID:   &agentID,
		DependsOn: dependsOn,
	}
}

func TestWorkflow_Validate(t *testing.T) {
	t.Run("Should accept a two-step linear workflow", func(t *testing.T) {
		w := workflow.New("onboard")
		w.Steps = []*workflow.Step{agentStep(1), agentStep(2, 1)}

		assert.NoError(t, w.Validate())
	})

	t.Run("Should reject duplicate step_order values", func(t *testing.T) {
		w := workflow.New("dup")
		w.Steps = []*workflow.Step{agentStep(1), agentStep(1)}

		assert.Error(t, w.Validate())
	})

	t.Run("Should reject a non-positive step_order", func(t *testing.T) {
		w := workflow.New("bad-order")
		w.Steps = []*workflow.Step{agentStep(0)}

		assert.Error(t, w.Validate())
	})

	t.Run("Should reject a cyclic dependency graph", func(t *testing.T) {
		w := workflow.New("cycle")
		w.Steps = []*workflow.Step{agentStep(1, 2), agentStep(2, 1)}

		err := w.Validate()

		require.Error(t, err)
	})

	t.Run("Should reject AGENT_EXECUTION steps missing an agent reference", func(t *testing.T) {
		w := workflow.New("missing-agent")
		w.Steps = []*workflow.Step{{StepOrder: 1, Kind: core.StepAgentExecution}}

		assert.Error(t, w.Validate())
	})

	t.Run("Should reject two independent steps writing the same output key", func(t *testing.T) {
		w := workflow.New("collision")
		s1 := agentStep(1)
		s1.OutputVariable = "result"
		s2 := agentStep(2)
		s2.OutputVariable = "result"
		w.Steps = []*workflow.Step{s1, s2}

		assert.Error(t, w.Validate())
	})

	t.Run("Should allow a dependent step to reuse an ancestor's output key", func(t *testing.T) {
		w := workflow.New("no-collision")
		s1 := agentStep(1)
		s1.OutputVariable = "result"
		s2 := agentStep(2, 1)
		s2.OutputVariable = "result"
		w.Steps = []*workflow.Step{s1, s2}

		assert.NoError(t, w.Validate())
	})
}

func TestStep_OutputKey(t *testing.T) {
	t.Run("Should default to stepN when output_variable is unset", func(t *testing.T) {
		s := agentStep(3)
		assert.Equal(t, "step3", s.OutputKey())
	})

	t.Run("Should prefer an explicit output_variable", func(t *testing.T) {
		s := agentStep(3)
		s.OutputVariable = "custom"
		assert.Equal(t, "custom", s.OutputKey())
	})

	t.Run("Should default approval steps to approvalN", func(t *testing.T) {
		s := &workflow.Step{StepOrder: 1, Kind: core.StepApproval}
		assert.Equal(t, "approval1", s.OutputKey())
	})
}

func TestStep_EffectiveTimeout(t *testing.T) {
	t.Run("Should default to 300 seconds when unset", func(t *testing.T) {
		s := agentStep(1)
		assert.Equal(t, 300*time.Second, s.EffectiveTimeout())
	})

	t.Run("Should clamp above 3600 seconds", func(t *testing.T) {
		s := agentStep(1)
		s.TimeoutSeconds = 10_000
		assert.Equal(t, 3600*time.Second, s.EffectiveTimeout())
	})

	t.Run("Should substitute a caller-provided fallback when unset", func(t *testing.T) {
		s := agentStep(1)
		assert.Equal(t, 45*time.Second, s.TimeoutOrDefault(45*time.Second))
	})
}

func TestWorkflow_ValidateTriggerData(t *testing.T) {
	t.Run("Should pass when no input schema is declared", func(t *testing.T) {
		w := workflow.New("open-input")
		assert.NoError(t, w.ValidateTriggerData(map[string]any{"anything": true}))
	})

	t.Run("Should reject trigger data missing a required field", func(t *testing.T) {
		w := workflow.New("strict-input")
		w.InputSchema = schema.Schema{
			"type":       "object",
			"properties": map[string]any{"code": map[string]any{"type": "string"}},
			"required":   []string{"code"},
		}

		assert.Error(t, w.ValidateTriggerData(map[string]any{}))
		assert.NoError(t, w.ValidateTriggerData(map[string]any{"code": "abc"}))
	})
}

func TestWorkflow_EnsurePublic(t *testing.T) {
	t.Run("Should fail NotPublic when the public flag is unset", func(t *testing.T) {
		w := workflow.New("private")
		assert.Error(t, w.EnsurePublic())
	})

	t.Run("Should pass when public", func(t *testing.T) {
		w := workflow.New("open")
		w.Public = true
		assert.NoError(t, w.EnsurePublic())
	})
}
