package tool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schema"
	"github.com/compozy/orchestra/engine/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	tools map[string]*tool.Tool
}

func (f *fakeLookup) FindActiveByName(_ context.Context, name string) (*tool.Tool, error) {
	t, ok := f.tools[name]
	if !ok {
		return nil, core.NewErrorf(core.CodeToolNotFound, "tool %q not found", name)
	}
	return t, nil
}

type echoHandler struct{}

func (echoHandler) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	return input, nil
}

type fakeAgentInvoker struct {
	called  bool
	agentID core.ID
}

func (f *fakeAgentInvoker) InvokeAgent(_ context.Context, agentID core.ID, input json.RawMessage) (json.RawMessage, error) {
	f.called = true
	f.agentID = agentID
	return input, nil
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("Should route invoke_agent_<id> to the agent invoker", func(t *testing.T) {
		invoker := &fakeAgentInvoker{}
		d := tool.NewDispatcher(&fakeLookup{tools: map[string]*tool.Tool{}}, invoker)
		agentID := core.NewID()

		resp, err := d.Dispatch(t.Context(), "invoke_agent_"+agentID.String(), json.RawMessage(`{"x":1}`))

		require.NoError(t, err)
		assert.True(t, invoker.called)
		assert.Equal(t, agentID, invoker.agentID)
		assert.False(t, resp.IsError)
	})

	t.Run("Should fail with ToolNotFound for an unknown tool", func(t *testing.T) {
		d := tool.NewDispatcher(&fakeLookup{tools: map[string]*tool.Tool{}}, nil)

		_, err := d.Dispatch(t.Context(), "missing", json.RawMessage(`{}`))

		require.Error(t, err)
	})

	t.Run("Should dispatch an in-process tool to its registered handler", func(t *testing.T) {
		tl := tool.New("echo", core.ToolKindInProcess, "echo-handler")
		lookup := &fakeLookup{tools: map[string]*tool.Tool{"echo": tl}}
		d := tool.NewDispatcher(lookup, nil)
		d.RegisterHandler("echo-handler", echoHandler{})

		resp, err := d.Dispatch(t.Context(), "echo", json.RawMessage(`{"x":1}`))

		require.NoError(t, err)
		assert.False(t, resp.IsError)
		assert.JSONEq(t, `{"x":1}`, string(resp.Output))
	})

	t.Run("Should reject input violating the tool's schema as an error result", func(t *testing.T) {
		tl := tool.New("echo", core.ToolKindInProcess, "echo-handler")
		tl.InputSchema = schema.Schema{
			"type":       "object",
			"properties": map[string]any{"x": map[string]any{"type": "integer"}},
			"required":   []string{"x"},
		}
		lookup := &fakeLookup{tools: map[string]*tool.Tool{"echo": tl}}
		d := tool.NewDispatcher(lookup, nil)
		d.RegisterHandler("echo-handler", echoHandler{})

		resp, err := d.Dispatch(t.Context(), "echo", json.RawMessage(`{"y":"nope"}`))

		require.NoError(t, err)
		assert.True(t, resp.IsError)

		resp, err = d.Dispatch(t.Context(), "echo", json.RawMessage(`{"x":1}`))

		require.NoError(t, err)
		assert.False(t, resp.IsError)
	})

	t.Run("Should surface a missing handler as ToolNotFound", func(t *testing.T) {
		tl := tool.New("echo", core.ToolKindInProcess, "missing-handler")
		lookup := &fakeLookup{tools: map[string]*tool.Tool{"echo": tl}}
		d := tool.NewDispatcher(lookup, nil)

		_, err := d.Dispatch(t.Context(), "echo", json.RawMessage(`{}`))

		require.Error(t, err)
	})

	t.Run("Should fail an inactive tool as ToolNotFound", func(t *testing.T) {
		tl := tool.New("echo", core.ToolKindInProcess, "echo-handler")
		tl.Active = false
		lookup := &fakeLookup{tools: map[string]*tool.Tool{"echo": tl}}
		d := tool.NewDispatcher(lookup, nil)

		_, err := d.Dispatch(t.Context(), "echo", json.RawMessage(`{}`))

		require.Error(t, err)
	})
}
