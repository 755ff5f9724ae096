package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schema"
	"github.com/go-resty/resty/v2"
)

// invokeAgentPrefix is the reserved tool-name convention routing a dispatch
// to the Agent Execution Engine instead of a registered Tool row, the
// mechanism behind dynamic agent-to-agent invocation.
const invokeAgentPrefix = "invoke_agent_"

// Handler is an in-process tool implementation.
type Handler interface {
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// InputValidator is an optional capability a Handler may additionally implement.
type InputValidator interface {
	ValidateInput(input json.RawMessage) bool
}

// AgentInvoker lets the dispatcher route `invoke_agent_<id>` calls without
// importing the Agent Execution Engine package directly (it depends on
// Dispatcher, so the reverse import would cycle).
type AgentInvoker interface {
	InvokeAgent(ctx context.Context, agentID core.ID, input json.RawMessage) (json.RawMessage, error)
}

// Lookup resolves a Tool by name, returning only active tools; the repository
// implementation is expected to treat an inactive row as not found.
type Lookup interface {
	FindActiveByName(ctx context.Context, name string) (*Tool, error)
}

// ExternalEndpoint configures a single external JSON-RPC 2.0 tool target.
type ExternalEndpoint struct {
	URL string
}

// Dispatcher resolves a tool name to a handler and executes it. A single
// Dispatcher is safe for concurrent use; handlers
// are responsible for their own internal synchronization.
type Dispatcher struct {
	tools      Lookup
	handlers   map[string]Handler
	agents     AgentInvoker
	rpc        *resty.Client
	endpointOf func(tool *Tool) (ExternalEndpoint, error)
}

// NewDispatcher builds a Dispatcher over a tool lookup and an agent invoker.
func NewDispatcher(tools Lookup, agents AgentInvoker) *Dispatcher {
	return &Dispatcher{
		tools:    tools,
		handlers: make(map[string]Handler),
		agents:   agents,
		rpc:      resty.New(),
	}
}

// SetAgentInvoker binds the agent invoker after construction, for wiring the
// Dispatcher <-> Agent Execution Engine cycle: the engine needs a live
// Dispatcher and the Dispatcher needs a live engine to route
// `invoke_agent_<id>` calls to.
func (d *Dispatcher) SetAgentInvoker(agents AgentInvoker) {
	d.agents = agents
}

// RegisterHandler binds an in-process Handler under symbol, the value stored
// in Tool.Handler for IN_PROCESS tools.
func (d *Dispatcher) RegisterHandler(symbol string, h Handler) {
	d.handlers[symbol] = h
}

// WithEndpointResolver sets the function mapping an EXTERNAL_RPC tool's
// Handler field to a concrete endpoint URL (e.g. a lookup table or env var).
func (d *Dispatcher) WithEndpointResolver(fn func(tool *Tool) (ExternalEndpoint, error)) {
	d.endpointOf = fn
}

// Dispatch resolves toolName and executes it with input, always returning a
// Response rather than propagating handler failures as Go errors -- tool
// errors are business data the Agent Execution Engine feeds back to the
// model, not a dispatch-level failure. Dispatch itself only errors for
// resolution failures (unknown tool, inactive tool).
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, input json.RawMessage) (*Response, error) {
	req, err := NewRequest(toolName, json.RawMessage(input))
	if err != nil {
		return nil, core.NewError(err, core.CodeInvalidInput, nil)
	}
	req.Input = input

	if agentID, ok := parseAgentInvocation(toolName); ok {
		return d.dispatchAgent(ctx, req, agentID)
	}

	t, err := d.tools.FindActiveByName(ctx, toolName)
	if err != nil {
		return nil, err
	}
	if err := t.EnsureActive(); err != nil {
		return nil, err
	}

	switch t.Kind {
	case core.ToolKindInProcess:
		return d.dispatchInProcess(ctx, req, t)
	case core.ToolKindExternal, core.ToolKindDomainAPI:
		return d.dispatchExternal(ctx, req, t)
	default:
		return nil, core.NewErrorf(core.CodeValidation, "unknown tool kind %q", t.Kind)
	}
}

func parseAgentInvocation(toolName string) (string, bool) {
	if !strings.HasPrefix(toolName, invokeAgentPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(toolName, invokeAgentPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

func (d *Dispatcher) dispatchAgent(ctx context.Context, req *Request, agentIDRaw string) (*Response, error) {
	if d.agents == nil {
		return nil, core.NewErrorf(core.CodeToolNotFound, "no agent invoker configured")
	}
	agentID, err := core.ParseID(agentIDRaw)
	if err != nil {
		return ErrorResponse(req.ID, err), nil
	}
	out, err := d.agents.InvokeAgent(ctx, agentID, req.Input)
	if err != nil {
		return ErrorResponse(req.ID, err), nil
	}
	return &Response{ID: req.ID, Output: out}, nil
}

func (d *Dispatcher) dispatchInProcess(ctx context.Context, req *Request, t *Tool) (*Response, error) {
	h, ok := d.handlers[t.Handler]
	if !ok {
		return nil, core.NewErrorf(core.CodeToolNotFound, "no handler registered for symbol %q", t.Handler)
	}
	if err := validateToolInput(t, req.Input); err != nil {
		return ErrorResponse(req.ID, err), nil
	}
	if v, ok := h.(InputValidator); ok {
		if !v.ValidateInput(req.Input) {
			return ErrorResponse(req.ID, core.NewErrorf(core.CodeInvalidInput, "input failed handler validation")), nil
		}
	}
	out, err := h.Execute(ctx, req.Input)
	if err != nil {
		return ErrorResponse(req.ID, core.NewError(err, core.CodeToolExecutionFailed, nil)), nil
	}
	return &Response{ID: req.ID, Output: out}, nil
}

// validateToolInput checks the raw input payload against the tool's declared
// input schema, when one is present. Runs before the handler's own optional
// ValidateInput so structurally invalid payloads never reach handler code;
// a violation is delivered to the model as an error tool_result, not a
// dispatch failure.
func validateToolInput(t *Tool, input json.RawMessage) error {
	if t.InputSchema == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return core.NewError(err, core.CodeInvalidInput, map[string]any{"tool": t.Name})
	}
	return schema.ValidateAgainst(t.InputSchema, decoded)
}

// jsonRPCRequest and jsonRPCResponse model the minimal JSON-RPC 2.0 envelope
// used to call external tool endpoints.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  jsonRPCParams `json:"params"`
}

type jsonRPCParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (d *Dispatcher) dispatchExternal(ctx context.Context, req *Request, t *Tool) (*Response, error) {
	if d.endpointOf == nil {
		return nil, core.NewErrorf(core.CodeToolNotFound, "no endpoint resolver configured")
	}
	endpoint, err := d.endpointOf(t)
	if err != nil {
		return nil, err
	}
	rpcReq := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      req.ID,
		Method:  "tools/call",
		Params:  jsonRPCParams{Name: t.Name, Arguments: req.Input},
	}
	var rpcResp jsonRPCResponse
	resp, err := d.rpc.R().
		SetContext(ctx).
		SetBody(rpcReq).
		SetResult(&rpcResp).
		Post(endpoint.URL)
	if err != nil {
		return ErrorResponse(req.ID, core.NewError(err, core.CodeTransient, nil)), nil
	}
	if resp.IsError() {
		return ErrorResponse(
			req.ID,
			core.NewErrorf(core.CodeToolExecutionFailed, "rpc endpoint returned status %d", resp.StatusCode()),
		), nil
	}
	if rpcResp.Error != nil {
		return ErrorResponse(
			req.ID,
			core.NewErrorf(core.CodeToolExecutionFailed, "rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message),
		), nil
	}
	return &Response{ID: req.ID, Output: rpcResp.Result}, nil
}
