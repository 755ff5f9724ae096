// Package orchestrator implements the Workflow Orchestrator: loading a
// workflow graph, running steps in dependency-wave order honoring conditions,
// parallelism, retries, and timeouts, and persisting a terminal execution.
package orchestrator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/compozy/orchestra/engine/agentexec"
	"github.com/compozy/orchestra/engine/approval"
	"github.com/compozy/orchestra/engine/condition"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/llm"
	"github.com/compozy/orchestra/engine/metrics"
	"github.com/compozy/orchestra/engine/template"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/compozy/orchestra/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// WorkflowRepository loads a workflow with its steps. Each step carries only
// its agent id; the agent record and its tool bindings are not loaded here.
type WorkflowRepository interface {
	LoadWorkflow(ctx context.Context, id core.ID) (*workflow.Workflow, error)
}

// ExecutionRepository persists WorkflowExecution rows and their step cursors.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *workflow.Execution) error
	UpdateExecution(ctx context.Context, exec *workflow.Execution) error
	GetExecution(ctx context.Context, id core.ID) (*workflow.Execution, error)
	GetStepStates(ctx context.Context, executionID core.ID) ([]*StepState, error)
	SaveStepState(ctx context.Context, state *StepState) error
}

// AgentCaller is the narrow Agent Execution Engine surface the orchestrator drives.
type AgentCaller interface {
	ExecuteAgent(
		ctx context.Context,
		agentID core.ID,
		input map[string]any,
		workflowExecID, workflowStepID *core.ID,
		extraTools []llm.ToolSpec,
	) (*agentexec.Result, error)
}

// ApprovalCreator is the narrow Approval Coordinator surface the orchestrator drives.
type ApprovalCreator interface {
	Create(ctx context.Context, executionID, stepID core.ID, requiredRole string, timeoutMinutes int) (*approval.Request, error)
}

// Result is the outcome of ExecuteWorkflow.
type Result struct {
	Success bool
	Context map[string]any
	Error   map[string]any
}

// Orchestrator drives workflow executions from start to a terminal state.
type Orchestrator struct {
	workflows  WorkflowRepository
	executions ExecutionRepository
	agents     AgentCaller
	approvals  ApprovalCreator
	conditions *condition.Evaluator
	metrics    *metrics.Metrics
	log        logger.Logger

	mu        sync.Mutex
	cancelFns map[core.ID]context.CancelFunc

	// ctxMu serializes execution-context writes and the UpdateExecution calls
	// that marshal it, so concurrent steps within a wave never mutate the map
	// while another step's completion is being persisted.
	ctxMu sync.Mutex

	defaultStepTimeout     time.Duration
	defaultApprovalTimeout time.Duration
	waveConcurrency        int
}

const (
	defaultApprovalTimeoutMinutes = 60
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultStepTimeout overrides the fallback deadline applied to steps
// that declare no timeout_seconds of their own.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultStepTimeout = d
		}
	}
}

// WithDefaultApprovalTimeout overrides the fallback deadline for approval
// steps whose config declares no timeoutMinutes.
func WithDefaultApprovalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultApprovalTimeout = d
		}
	}
}

// WithWaveConcurrency bounds how many ready steps of one wave run at once;
// zero means unbounded.
func WithWaveConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.waveConcurrency = n
		}
	}
}

// New wires an Orchestrator.
func New(
	workflows WorkflowRepository,
	executions ExecutionRepository,
	agents AgentCaller,
	approvals ApprovalCreator,
	conditions *condition.Evaluator,
	m *metrics.Metrics,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		workflows:              workflows,
		executions:             executions,
		agents:                 agents,
		approvals:              approvals,
		conditions:             conditions,
		metrics:                m,
		log:                    logger.FromContext(context.Background()),
		cancelFns:              make(map[core.ID]context.CancelFunc),
		defaultApprovalTimeout: defaultApprovalTimeoutMinutes * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetApprovalCreator binds the approval creator after construction, for
// wiring the Orchestrator <-> Coordinator cycle: the Coordinator needs a
// live Orchestrator reference and the Orchestrator needs a live Coordinator.
func (o *Orchestrator) SetApprovalCreator(approvals ApprovalCreator) {
	o.approvals = approvals
}

// ExecuteWorkflow is the synchronous-or-async entry point.
func (o *Orchestrator) ExecuteWorkflow(
	ctx context.Context,
	workflowID core.ID,
	triggerData map[string]any,
) (*Result, error) {
	wf, err := o.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := wf.EnsureActive(); err != nil {
		return nil, err
	}
	if err := wf.ValidateTriggerData(triggerData); err != nil {
		return nil, err
	}
	exec := workflow.NewExecution(workflowID, triggerData)
	if err := o.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if wf.ExecutionMode == core.ExecutionModeAsync {
		go o.driveDetached(wf, exec)
		return &Result{Success: true, Context: exec.Context}, nil
	}
	driveErr := o.drive(ctx, wf, exec)
	return o.toResult(exec, driveErr), nil
}

// ExecuteWorkflowAsync is the narrow surface the Scheduler drives.
func (o *Orchestrator) ExecuteWorkflowAsync(ctx context.Context, workflowID core.ID, triggerData map[string]any) error {
	wf, err := o.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := wf.EnsureActive(); err != nil {
		return err
	}
	if err := wf.ValidateTriggerData(triggerData); err != nil {
		return err
	}
	exec := workflow.NewExecution(workflowID, triggerData)
	if err := o.executions.CreateExecution(ctx, exec); err != nil {
		return err
	}
	go o.driveDetached(wf, exec)
	return nil
}

// ExecutePublicWorkflow fails with NotPublic unless the workflow's public flag is set.
func (o *Orchestrator) ExecutePublicWorkflow(
	ctx context.Context,
	workflowID core.ID,
	input map[string]any,
) (*Result, error) {
	wf, err := o.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := wf.EnsurePublic(); err != nil {
		return nil, err
	}
	return o.ExecuteWorkflow(ctx, workflowID, input)
}

func (o *Orchestrator) driveDetached(wf *workflow.Workflow, exec *workflow.Execution) {
	ctx := context.Background()
	if err := o.drive(ctx, wf, exec); err != nil {
		o.log.Error("workflow execution failed", "execution_id", exec.ID, "error", err)
	}
}

func (o *Orchestrator) toResult(exec *workflow.Execution, driveErr error) *Result {
	if driveErr != nil {
		var appErr *core.Error
		if ae, ok := driveErr.(*core.Error); ok {
			appErr = ae
		} else {
			appErr = core.NewError(driveErr, core.CodeValidation, nil)
		}
		return &Result{Success: false, Context: exec.Context, Error: appErr.AsMap()}
	}
	if exec.Status == core.StatusCompleted {
		return &Result{Success: true, Context: exec.Context}
	}
	return &Result{Success: false, Context: exec.Context, Error: map[string]any{"message": exec.ErrorMsg}}
}

// CancelExecution transitions the execution to CANCELLED and signals any
// in-flight step tasks this process is driving.
func (o *Orchestrator) CancelExecution(ctx context.Context, executionID core.ID) error {
	o.mu.Lock()
	cancel, ok := o.cancelFns[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	exec, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}
	if err := exec.Transition(core.StatusCancelled); err != nil {
		return err
	}
	return o.executions.UpdateExecution(ctx, exec)
}

// drive runs the scheduling loop until the execution reaches a terminal
// state or suspends on an approval step.
func (o *Orchestrator) drive(parent context.Context, wf *workflow.Workflow, exec *workflow.Execution) error {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.cancelFns[exec.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancelFns, exec.ID)
		o.mu.Unlock()
		cancel()
	}()

	for {
		if ctx.Err() != nil {
			return o.cancelled(ctx, exec)
		}
		states, err := o.executions.GetStepStates(ctx, exec.ID)
		if err != nil {
			return o.fail(ctx, exec, err)
		}
		byOrder := statesByOrder(states)
		ready := readyWave(wf.Steps, byOrder)
		if len(ready) == 0 {
			if allTerminal(wf.Steps, byOrder) {
				return o.complete(ctx, exec)
			}
			return o.fail(ctx, exec, core.NewErrorf(core.CodeDeadlockDetected, "no ready steps remain"))
		}
		suspended, err := o.runWave(ctx, exec, ready)
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(ctx, exec)
			}
			return o.fail(ctx, exec, err)
		}
		if suspended {
			// Parked on an approval; the coordinator re-enters via
			// ResumeAfterApproval once the request resolves.
			return nil
		}
	}
}

// runWave executes every ready step concurrently. Each step task reads an
// immutable snapshot of the context taken at the wave boundary; writes land
// on the live context one at a time as steps finish. Returns suspended=true
// if any step parked the execution on an approval.
func (o *Orchestrator) runWave(
	ctx context.Context,
	exec *workflow.Execution,
	ready []*workflow.Step,
) (bool, error) {
	snapshot := cloneTree(exec.Context).(map[string]any)
	var suspendedFlag sync.Map
	g, gctx := errgroup.WithContext(ctx)
	if o.waveConcurrency > 0 {
		g.SetLimit(o.waveConcurrency)
	}
	for _, step := range ready {
		step := step
		g.Go(func() error {
			suspended, err := o.runStep(gctx, exec, step, snapshot)
			if suspended {
				suspendedFlag.Store(step.StepOrder, true)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	suspended := false
	suspendedFlag.Range(func(_, _ any) bool { suspended = true; return false })
	return suspended, nil
}

func (o *Orchestrator) runStep(
	ctx context.Context,
	exec *workflow.Execution,
	step *workflow.Step,
	snapshot map[string]any,
) (bool, error) {
	state := newStepState(exec.ID, step.StepOrder)
	now := core.Now()
	state.StartedAt = &now
	state.Status = core.StatusRunning
	if err := o.executions.SaveStepState(ctx, state); err != nil {
		return false, err
	}

	// CONDITION steps are a pure decorator: condition_expression is the value
	// to compute, not a gate on the step itself, so it always COMPLETEs and
	// records the result (true or false) rather than being SKIPPED when
	// false -- "Does not block dependents; it is a pure decorator step."
	if step.Kind == core.StepCondition {
		ok, err := o.conditions.EvaluateTemplated(ctx, step.ConditionExpr, snapshot)
		if err != nil {
			return false, err
		}
		return false, o.finishStep(ctx, exec, step, state, core.StatusCompleted, ok, nil)
	}

	ok, err := o.conditions.EvaluateTemplated(ctx, step.ConditionExpr, snapshot)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, o.finishStep(ctx, exec, step, state, core.StatusSkipped, nil, nil)
	}

	switch step.Kind {
	case core.StepParallel:
		return false, o.finishStep(ctx, exec, step, state, core.StatusCompleted, nil, nil)
	case core.StepApproval:
		return o.runApprovalStep(ctx, exec, step, state)
	case core.StepAgentExecution:
		return false, o.runAgentStep(ctx, exec, step, state, snapshot)
	default:
		return false, core.NewErrorf(core.CodeValidation, "unknown step kind %q", step.Kind)
	}
}

func (o *Orchestrator) runApprovalStep(
	ctx context.Context,
	exec *workflow.Execution,
	step *workflow.Step,
	state *StepState,
) (bool, error) {
	cfg := step.ApprovalConfig
	role := ""
	timeoutMinutes := int(o.defaultApprovalTimeout / time.Minute)
	if timeoutMinutes <= 0 {
		timeoutMinutes = defaultApprovalTimeoutMinutes
	}
	if cfg != nil {
		role = cfg.RequiredRole
		if cfg.TimeoutMinutes > 0 {
			timeoutMinutes = cfg.TimeoutMinutes
		}
	}
	if _, err := o.approvals.Create(ctx, exec.ID, step.ID, role, timeoutMinutes); err != nil {
		return false, err
	}
	o.ctxMu.Lock()
	defer o.ctxMu.Unlock()
	if exec.Status != core.StatusAwaitingApproval {
		if err := exec.Transition(core.StatusAwaitingApproval); err != nil {
			return false, err
		}
	}
	if err := o.executions.UpdateExecution(ctx, exec); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) runAgentStep(
	ctx context.Context,
	exec *workflow.Execution,
	step *workflow.Step,
	state *StepState,
	snapshot map[string]any,
) error {
	input, _ := template.Expand(step.InputMapping, snapshot).(map[string]any)
	result, err := o.executeWithRetry(ctx, exec, step, state, input)
	if err != nil {
		return o.finishStep(ctx, exec, step, state, core.StatusFailed, nil, err)
	}
	output := map[string]any{"text": result.Text}
	o.ctxMu.Lock()
	exec.MergeUsage(result.Usage)
	o.ctxMu.Unlock()
	return o.finishStep(ctx, exec, step, state, core.StatusCompleted, output, nil)
}

// executeWithRetry applies the per-step timeout and the exponential-backoff
// retry policy from retry_config: retries are triggered only by retryable
// errors (network, StepTimeout, LLM transient), never by business-logic tool
// errors the model already observed.
func (o *Orchestrator) executeWithRetry(
	ctx context.Context,
	exec *workflow.Execution,
	step *workflow.Step,
	state *StepState,
	input map[string]any,
) (*agentexec.Result, error) {
	retry := step.RetryConfig
	maxAttempts := 1
	if retry != nil {
		maxAttempts = retry.MaxRetries + 1
	}
	timeout := step.EffectiveTimeout()
	if o.defaultStepTimeout > 0 {
		timeout = step.TimeoutOrDefault(o.defaultStepTimeout)
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		state.Attempts = attempt + 1
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := o.agents.ExecuteAgent(stepCtx, *step.AgentID, input, &exec.ID, &step.ID, nil)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = timeoutAware(stepCtx, err)
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
		if o.metrics != nil {
			o.metrics.StepRetries.WithLabelValues(string(step.Kind)).Inc()
		}
		if attempt < maxAttempts-1 {
			delay := backoffDelay(retry, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, lastErr
}

func timeoutAware(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return core.NewError(err, core.CodeStepTimeout, nil)
	}
	return err
}

func isRetryable(err error) bool {
	if appErr, ok := err.(*core.Error); ok {
		return appErr.IsRetryable()
	}
	return false
}

// backoffDelay computes delay = min(initialDelay * multiplier^attempt, maxDelay).
func backoffDelay(cfg *workflow.RetryConfig, attempt int) time.Duration {
	if cfg == nil {
		return 0
	}
	delay := float64(cfg.InitialDelayMs) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelayMs > 0 && delay > float64(cfg.MaxDelayMs) {
		delay = float64(cfg.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

func (o *Orchestrator) finishStep(
	ctx context.Context,
	exec *workflow.Execution,
	step *workflow.Step,
	state *StepState,
	status core.StatusType,
	output any,
	stepErr error,
) error {
	now := core.Now()
	state.CompletedAt = &now
	state.Status = status
	if o.metrics != nil && state.StartedAt != nil {
		o.metrics.ObserveStepDuration(string(step.Kind), now.Sub(*state.StartedAt))
	}
	// Terminal step writes must land even when the step's own context has
	// already been cancelled or timed out.
	persistCtx := context.WithoutCancel(ctx)
	o.ctxMu.Lock()
	if stepErr != nil {
		state.ErrorMessage = stepErr.Error()
		exec.ErrorMsg = stepErr.Error()
	}
	if output != nil {
		exec.Context[step.OutputKey()] = output
	}
	saveErr := o.executions.SaveStepState(persistCtx, state)
	if saveErr == nil {
		saveErr = o.executions.UpdateExecution(persistCtx, exec)
	}
	o.ctxMu.Unlock()
	if saveErr != nil {
		return saveErr
	}
	if status == core.StatusFailed {
		return stepErr
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, exec *workflow.Execution) error {
	if err := exec.Transition(core.StatusCompleted); err != nil {
		return err
	}
	return o.executions.UpdateExecution(ctx, exec)
}

// cancelled lands the CANCELLED terminal state for an execution whose drive
// context was killed. CancelExecution may already have persisted the status
// from another goroutine, so the row is reloaded first to avoid clobbering
// it; persistence runs on a detached context since the drive context is dead.
func (o *Orchestrator) cancelled(ctx context.Context, exec *workflow.Execution) error {
	cause := core.NewErrorf(core.CodeCancelled, "execution cancelled")
	detached := context.WithoutCancel(ctx)
	if fresh, err := o.executions.GetExecution(detached, exec.ID); err == nil && fresh.Status.IsTerminal() {
		exec.Status = fresh.Status
		return cause
	}
	exec.ErrorMsg = cause.Error()
	if err := exec.Transition(core.StatusCancelled); err != nil {
		return err
	}
	if err := o.executions.UpdateExecution(detached, exec); err != nil {
		return err
	}
	return cause
}

// ResumeAfterApproval implements engine/approval.OrchestratorCallback: it
// settles the waiting approval step (APPROVED -> COMPLETED, otherwise
// SKIPPED) and resumes the orchestration loop. Resumption may run in any
// process, since the entire orchestration frame is reloaded from the
// repository here.
func (o *Orchestrator) ResumeAfterApproval(
	ctx context.Context,
	executionID, stepID core.ID,
	resolution approval.Resolution,
) error {
	exec, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	wf, err := o.workflows.LoadWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	step := findStepByID(wf.Steps, stepID)
	if step == nil {
		return core.NewErrorf(core.CodeNotFound, "step %s not found in workflow %s", stepID, wf.ID)
	}
	states, err := o.executions.GetStepStates(ctx, executionID)
	if err != nil {
		return err
	}
	state, ok := statesByOrder(states)[step.StepOrder]
	if !ok {
		state = newStepState(executionID, step.StepOrder)
	}
	if state.resolved() {
		// Already advanced by a prior resume call; a second resume for the
		// same approval is a no-op.
		return nil
	}
	status := core.StatusSkipped
	if resolution.Approved {
		status = core.StatusCompleted
	}
	output := map[string]any{
		"approved":   resolution.Approved,
		"approvedBy": resolution.ApprovedBy,
		"comments":   resolution.Comments,
	}
	if err := o.finishStep(ctx, exec, step, state, status, output, nil); err != nil {
		return err
	}
	if err := exec.Transition(core.StatusRunning); err != nil {
		return err
	}
	if err := o.executions.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	return o.drive(ctx, wf, exec)
}

func findStepByID(steps []*workflow.Step, id core.ID) *workflow.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, exec *workflow.Execution, cause error) error {
	exec.ErrorMsg = cause.Error()
	if err := exec.Transition(core.StatusFailed); err != nil {
		return err
	}
	if updateErr := o.executions.UpdateExecution(ctx, exec); updateErr != nil {
		return updateErr
	}
	return cause
}
