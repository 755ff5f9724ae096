package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/compozy/orchestra/engine/agentexec"
	"github.com/compozy/orchestra/engine/approval"
	"github.com/compozy/orchestra/engine/condition"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/llm"
	"github.com/compozy/orchestra/engine/orchestrator"
	"github.com/compozy/orchestra/engine/schema"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkflowRepo struct {
	workflows map[core.ID]*workflow.Workflow
}

func (f *fakeWorkflowRepo) LoadWorkflow(_ context.Context, id core.ID) (*workflow.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, core.NewErrorf(core.CodeNotFound, "workflow not found")
	}
	return wf, nil
}

type fakeExecRepo struct {
	mu         sync.Mutex
	executions map[core.ID]*workflow.Execution
	states     map[core.ID]map[int]*orchestrator.StepState
}

func newFakeExecRepo() *fakeExecRepo {
	return &fakeExecRepo{
		executions: make(map[core.ID]*workflow.Execution),
		states:     make(map[core.ID]map[int]*orchestrator.StepState),
	}
}

func (f *fakeExecRepo) CreateExecution(_ context.Context, exec *workflow.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *exec
	f.executions[exec.ID] = &cp
	f.states[exec.ID] = map[int]*orchestrator.StepState{}
	return nil
}

func (f *fakeExecRepo) UpdateExecution(_ context.Context, exec *workflow.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *exec
	f.executions[exec.ID] = &cp
	return nil
}

func (f *fakeExecRepo) GetExecution(_ context.Context, id core.ID) (*workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return nil, core.NewErrorf(core.CodeNotFound, "execution not found")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExecRepo) GetStepStates(_ context.Context, executionID core.ID) ([]*orchestrator.StepState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.states[executionID]
	out := make([]*orchestrator.StepState, 0, len(m))
	for _, s := range m {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeExecRepo) SaveStepState(_ context.Context, state *orchestrator.StepState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.states[state.ExecutionID]
	if m == nil {
		m = map[int]*orchestrator.StepState{}
		f.states[state.ExecutionID] = m
	}
	cp := *state
	m[state.StepOrder] = &cp
	return nil
}

type fakeAgentCaller struct {
	mu     sync.Mutex
	calls  int
	fail   int
	result *agentexec.Result
}

func (f *fakeAgentCaller) ExecuteAgent(
	_ context.Context,
	_ core.ID,
	_ map[string]any,
	_, _ *core.ID,
	_ []llm.ToolSpec,
) (*agentexec.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= f.fail {
		return nil, core.NewErrorf(core.CodeTransient, "transient failure")
	}
	if f.result != nil {
		return f.result, nil
	}
	return &agentexec.Result{Text: "ok"}, nil
}

type fakeApprovalCreator struct {
	created []*approval.Request
}

func (f *fakeApprovalCreator) Create(
	_ context.Context,
	executionID, stepID core.ID,
	requiredRole string,
	timeoutMinutes int,
) (*approval.Request, error) {
	req := approval.New(executionID, stepID, requiredRole, timeoutMinutes)
	f.created = append(f.created, req)
	return req, nil
}

func newEvaluator(t *testing.T) *condition.Evaluator {
	t.Helper()
	ev, err := condition.NewCELEvaluator()
	require.NoError(t, err)
	return ev
}

func agentStep(order int, agentID core.ID, dependsOn ...int) *workflow.Step {
	return &workflow.Step{
		ID:        core.NewID(),
		StepOrder: order,
		Kind:      core.StepAgentExecution,
		AgentID:   &agentID,
		DependsOn: dependsOn,
	}
}

func singleExecution(repo *fakeExecRepo) *workflow.Execution {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, e := range repo.executions {
		return e
	}
	return nil
}

func waitForExecution(t *testing.T, repo *fakeExecRepo) *workflow.Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e := singleExecution(repo); e != nil {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution was never created")
	return nil
}

// blockingCaller parks the first agent call until its context is cancelled,
// used to observe in-flight cancellation.
type blockingCaller struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingCaller) ExecuteAgent(
	ctx context.Context,
	_ core.ID,
	_ map[string]any,
	_, _ *core.ID,
	_ []llm.ToolSpec,
) (*agentexec.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_ExecuteWorkflow(t *testing.T) {
	t.Run("Should run a linear two-step workflow to completion", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("linear")
		wf.Steps = []*workflow.Step{
			agentStep(1, agentID),
			agentStep(2, agentID, 1),
		}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &fakeAgentCaller{}
		orch := orchestrator.New(wfRepo, execRepo, caller, &fakeApprovalCreator{}, newEvaluator(t), nil)

		result, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{"in": 1})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, caller.calls)
		exec := singleExecution(execRepo)
		require.NotNil(t, exec)
		assert.Equal(t, core.StatusCompleted, exec.Status)
	})

	t.Run("Should skip a step whose condition evaluates false and still complete", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("conditional")
		step2 := agentStep(2, agentID, 1)
		step2.ConditionExpr = "false"
		wf.Steps = []*workflow.Step{agentStep(1, agentID), step2}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &fakeAgentCaller{}
		orch := orchestrator.New(wfRepo, execRepo, caller, &fakeApprovalCreator{}, newEvaluator(t), nil)

		result, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, caller.calls)
		exec := singleExecution(execRepo)
		require.NotNil(t, exec)
		assert.Equal(t, core.StatusCompleted, exec.Status)
	})

	t.Run("Should retry a transient failure and then complete", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("retrying")
		step := agentStep(1, agentID)
		step.RetryConfig = &workflow.RetryConfig{MaxRetries: 2, InitialDelayMs: 1, Multiplier: 1, MaxDelayMs: 5}
		wf.Steps = []*workflow.Step{step}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &fakeAgentCaller{fail: 1}
		orch := orchestrator.New(wfRepo, execRepo, caller, &fakeApprovalCreator{}, newEvaluator(t), nil)

		result, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, caller.calls)
	})

	t.Run("Should detect a deadlock when no ready step exists and none are terminal", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("stuck")
		// step depends on a step_order that does not exist, so it can never
		// become ready and never reaches a terminal status.
		wf.Steps = []*workflow.Step{agentStep(1, agentID, 99)}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &fakeAgentCaller{}
		orch := orchestrator.New(wfRepo, execRepo, caller, &fakeApprovalCreator{}, newEvaluator(t), nil)

		result, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{})

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, string(core.CodeDeadlockDetected), result.Error["code"])
		exec := singleExecution(execRepo)
		require.NotNil(t, exec)
		assert.Equal(t, core.StatusFailed, exec.Status)
	})

	t.Run("Should suspend on an approval step and resume after approval", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("approval-gated")
		approvalStep := &workflow.Step{
			ID:             core.NewID(),
			StepOrder:      1,
			Kind:           core.StepApproval,
			ApprovalConfig: &workflow.ApprovalConfig{RequiredRole: "ops", TimeoutMinutes: 60},
		}
		followUp := agentStep(2, agentID, 1)
		wf.Steps = []*workflow.Step{approvalStep, followUp}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &fakeAgentCaller{}
		approvals := &fakeApprovalCreator{}
		orch := orchestrator.New(wfRepo, execRepo, caller, approvals, newEvaluator(t), nil)

		result, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{})
		require.NoError(t, err)
		assert.False(t, result.Success)
		exec := singleExecution(execRepo)
		require.NotNil(t, exec)
		assert.Equal(t, core.StatusAwaitingApproval, exec.Status)
		require.Len(t, approvals.created, 1)

		err = orch.ResumeAfterApproval(t.Context(), exec.ID, approvalStep.ID, approval.Resolution{
			Approved:   true,
			ApprovedBy: "alice",
			Comments:   "ok",
		})

		require.NoError(t, err)
		final := singleExecution(execRepo)
		assert.Equal(t, core.StatusCompleted, final.Status)
		assert.Equal(t, 1, caller.calls)
		gate, ok := final.Context["approval1"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, gate["approved"])
		assert.Equal(t, "alice", gate["approvedBy"])
		assert.Equal(t, "ok", gate["comments"])
	})

	t.Run("Should reject trigger data violating the workflow's input schema", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("schema-gated")
		wf.InputSchema = schema.Schema{
			"type":       "object",
			"properties": map[string]any{"code": map[string]any{"type": "string"}},
			"required":   []string{"code"},
		}
		wf.Steps = []*workflow.Step{agentStep(1, agentID)}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		orch := orchestrator.New(wfRepo, execRepo, &fakeAgentCaller{}, &fakeApprovalCreator{}, newEvaluator(t), nil)

		_, err := orch.ExecuteWorkflow(t.Context(), wf.ID, map[string]any{"wrong": 1})

		require.Error(t, err)
		assert.Nil(t, singleExecution(execRepo))
	})

	t.Run("Should reach CANCELLED when cancelled mid-flight", func(t *testing.T) {
		agentID := core.NewID()
		wf := workflow.New("cancellable")
		wf.Steps = []*workflow.Step{agentStep(1, agentID)}
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		caller := &blockingCaller{started: make(chan struct{})}
		orch := orchestrator.New(wfRepo, execRepo, caller, &fakeApprovalCreator{}, newEvaluator(t), nil)

		done := make(chan *orchestrator.Result, 1)
		go func() {
			result, _ := orch.ExecuteWorkflow(context.Background(), wf.ID, map[string]any{})
			done <- result
		}()
		<-caller.started
		exec := waitForExecution(t, execRepo)
		require.NoError(t, orch.CancelExecution(context.Background(), exec.ID))

		result := <-done
		assert.False(t, result.Success)
		assert.Equal(t, core.StatusCancelled, singleExecution(execRepo).Status)
	})

	t.Run("Should reject public execution of a non-public workflow", func(t *testing.T) {
		wf := workflow.New("private")
		wfRepo := &fakeWorkflowRepo{workflows: map[core.ID]*workflow.Workflow{wf.ID: wf}}
		execRepo := newFakeExecRepo()
		orch := orchestrator.New(wfRepo, execRepo, &fakeAgentCaller{}, &fakeApprovalCreator{}, newEvaluator(t), nil)

		_, err := orch.ExecutePublicWorkflow(t.Context(), wf.ID, map[string]any{})

		require.Error(t, err)
	})
}
