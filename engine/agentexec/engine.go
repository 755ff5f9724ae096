// Package agentexec implements the Agent Execution Engine: a bounded
// multi-turn loop that lets an LLM reach a terminal answer, dispatching any
// tool calls it emits along the way.
package agentexec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/compozy/orchestra/engine/agent"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/llm"
	"github.com/compozy/orchestra/engine/metrics"
	"github.com/compozy/orchestra/engine/tool"
	"golang.org/x/sync/errgroup"
)

// MaxIterations is the default bound on the number of provider turns an agent
// run may take before it is failed as non-converging.
const MaxIterations = 5

// Status is the lifecycle of an AgentExecution.
type Status = core.StatusType

// Execution is one invocation of an Agent.
type Execution struct {
	ID              core.ID         `json:"id"`
	AgentID         core.ID         `json:"agent_id"`
	WorkflowExecID  *core.ID        `json:"workflow_execution_id,omitempty"`
	WorkflowStepID  *core.ID        `json:"workflow_step_id,omitempty"`
	Status          Status          `json:"status"`
	Input           map[string]any  `json:"input"`
	Output          map[string]any  `json:"output,omitempty"`
	Usage           core.TokenUsage `json:"usage"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Result is what ExecuteAgent returns to its caller.
type Result struct {
	Text  string
	Raw   []llm.Content
	Usage core.TokenUsage
}

// AgentRepository loads agents and their bound tool catalogs.
type AgentRepository interface {
	Get(ctx context.Context, id core.ID) (*agent.Agent, error)
	ToolCatalog(ctx context.Context, agentID core.ID) ([]llm.ToolSpec, error)
}

// ExecutionRepository persists AgentExecution rows across the lifecycle.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *Execution) error
	Update(ctx context.Context, exec *Execution) error
}

// Dispatcher is the narrow Tool Dispatcher surface the engine calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, toolName string, input json.RawMessage) (*tool.Response, error)
}

// Engine drives the multi-turn agent loop.
type Engine struct {
	agents        AgentRepository
	executions    ExecutionRepository
	dispatcher    Dispatcher
	gateway       llm.Gateway
	metrics       *metrics.Metrics
	maxIterations int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations overrides the default turn bound.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// New wires an Engine.
func New(
	agents AgentRepository,
	executions ExecutionRepository,
	dispatcher Dispatcher,
	gateway llm.Gateway,
	m *metrics.Metrics,
	opts ...Option,
) *Engine {
	e := &Engine{
		agents:        agents,
		executions:    executions,
		dispatcher:    dispatcher,
		gateway:       gateway,
		metrics:       m,
		maxIterations: MaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAgent runs the bounded multi-turn loop for agentID against input,
// optionally attributed to a workflow step. extraTools are caller-injected
// catalog entries layered on top of the agent's bound tools (e.g. reserved
// `invoke_agent_<id>` entries for sub-agent orchestration).
func (e *Engine) ExecuteAgent(
	ctx context.Context,
	agentID core.ID,
	input map[string]any,
	workflowExecID, workflowStepID *core.ID,
	extraTools []llm.ToolSpec,
) (*Result, error) {
	a, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := a.EnsureActive(); err != nil {
		return nil, err
	}
	catalog, err := e.agents.ToolCatalog(ctx, agentID)
	if err != nil {
		return nil, err
	}
	catalog = append(catalog, extraTools...)

	exec := &Execution{
		ID:             core.NewID(),
		AgentID:        agentID,
		WorkflowExecID: workflowExecID,
		WorkflowStepID: workflowStepID,
		Status:         core.StatusRunning,
		Input:          input,
		StartedAt:      core.Now(),
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	messages := []llm.Message{seedMessage(input)}
	result, loopErr := e.runLoop(ctx, a, messages, catalog, exec)
	e.finish(ctx, exec, result, loopErr)
	if loopErr != nil {
		return nil, loopErr
	}
	return result, nil
}

// InvokeAgent implements engine/tool.AgentInvoker, letting the dispatcher
// route reserved `invoke_agent_<id>` tool calls back into this engine for
// dynamic agent-to-agent dispatch.
func (e *Engine) InvokeAgent(ctx context.Context, agentID core.ID, input json.RawMessage) (json.RawMessage, error) {
	var decoded map[string]any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, core.NewError(err, core.CodeInvalidInput, nil)
	}
	result, err := e.ExecuteAgent(ctx, agentID, decoded, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"text": result.Text})
}

func seedMessage(input map[string]any) llm.Message {
	raw, _ := json.Marshal(input)
	return llm.Message{Role: llm.RoleUser, Content: []llm.Content{{Kind: llm.BlockText, Text: string(raw)}}}
}

func (e *Engine) runLoop(
	ctx context.Context,
	a *agent.Agent,
	messages []llm.Message,
	catalog []llm.ToolSpec,
	exec *Execution,
) (*Result, error) {
	for turn := 0; turn < e.maxIterations; turn++ {
		resp, err := e.complete(ctx, llm.Request{
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			Messages:     messages,
			Tools:        catalog,
			Temperature:  a.Temperature,
			MaxTokens:    a.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		exec.Usage = exec.Usage.Merge(resp.Usage)
		if e.metrics != nil {
			e.metrics.RecordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		switch resp.StopReason {
		case llm.StopToolUse:
			toolResults, err := e.dispatchToolUses(ctx, resp.Content)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: toolResults})
			continue
		default:
			if e.metrics != nil {
				e.metrics.AgentIterations.WithLabelValues(a.ID.String()).Observe(float64(turn + 1))
			}
			return &Result{Text: concatText(resp.Content), Raw: resp.Content, Usage: exec.Usage}, nil
		}
	}
	if e.metrics != nil {
		e.metrics.AgentIterations.WithLabelValues(a.ID.String()).Observe(float64(e.maxIterations))
	}
	return nil, core.NewErrorf(core.CodeIterationLimitExceeded, "agent %s did not converge within %d turns", a.ID, e.maxIterations)
}

// transientRetries bounds the gateway retries attempted within a single turn
// before the error escalates to the step retry policy.
const transientRetries = 2

// complete issues one gateway request, retrying transient provider failures
// a bounded number of times inside the same turn.
func (e *Engine) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		resp, err := e.gateway.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		appErr, ok := err.(*core.Error)
		if !ok || !appErr.IsRetryable() {
			return nil, err
		}
		if attempt < transientRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}

// dispatchToolUses invokes the Tool Dispatcher concurrently for every
// tool_use block in a turn, reassembling results in original block order
// before they are fed back to the model.
func (e *Engine) dispatchToolUses(ctx context.Context, content []llm.Content) ([]llm.Content, error) {
	uses := make([]llm.Content, 0, len(content))
	for _, c := range content {
		if c.Kind == llm.BlockToolUse {
			uses = append(uses, c)
		}
	}
	results := make([]llm.Content, len(uses))
	g, gctx := errgroup.WithContext(ctx)
	for i, use := range uses {
		i, use := i, use
		g.Go(func() error {
			results[i] = e.dispatchOne(gctx, use)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) dispatchOne(ctx context.Context, use llm.Content) llm.Content {
	input, _ := json.Marshal(use.ToolInput)
	resp, err := e.dispatcher.Dispatch(ctx, use.ToolName, input)
	if err != nil {
		// Dispatch resolution failure (unknown/inactive tool) is still
		// delivered to the model as an error tool_result, not a hard stop:
		// a handler throwing is equivalent to returning an error blob.
		return llm.Content{
			Kind:        llm.BlockToolResult,
			ToolUseID:   use.ToolUseID,
			ResultJSON:  errorResultJSON(err.Error()),
			IsToolError: true,
		}
	}
	if resp.IsError {
		return llm.Content{
			Kind:        llm.BlockToolResult,
			ToolUseID:   use.ToolUseID,
			ResultJSON:  errorResultJSON(resp.Error),
			IsToolError: true,
		}
	}
	return llm.Content{
		Kind:       llm.BlockToolResult,
		ToolUseID:  use.ToolUseID,
		ResultJSON: string(resp.Output),
	}
}

func (e *Engine) finish(ctx context.Context, exec *Execution, result *Result, loopErr error) {
	now := core.Now()
	exec.CompletedAt = &now
	exec.ExecutionTimeMs = now.Sub(exec.StartedAt).Milliseconds()
	if loopErr != nil {
		exec.Status = core.StatusFailed
		exec.ErrorMessage = loopErr.Error()
	} else {
		exec.Status = core.StatusCompleted
		exec.Output = map[string]any{"text": result.Text}
	}
	_ = e.executions.Update(ctx, exec)
}

// errorResultJSON renders a tool error message as a JSON object, escaping it
// properly instead of splicing raw text into a hand-written literal (a
// message containing a quote or backslash would otherwise produce invalid
// JSON the model's tool_result parsing chokes on).
func errorResultJSON(message string) string {
	out, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(out)
}

func concatText(content []llm.Content) string {
	var out string
	for _, c := range content {
		if c.Kind == llm.BlockText {
			out += c.Text
		}
	}
	return out
}
