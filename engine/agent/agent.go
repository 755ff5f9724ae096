// Package agent defines the Agent and AgentTool domain types: an LLM
// persona and its bound tool catalog.
package agent

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
	validator "github.com/go-playground/validator/v10"
)

// Agent is an LLM persona with a system prompt and sampling parameters.
type Agent struct {
	ID           core.ID        `json:"id"            validate:"required"`
	Name         string         `json:"name"          validate:"required,min=1,max=128"`
	Provider     string         `json:"provider"      validate:"required"`
	Model        string         `json:"model"         validate:"required"`
	SystemPrompt string         `json:"system_prompt"`
	Temperature  float64        `json:"temperature"   validate:"gte=0,lte=2"`
	MaxTokens    int            `json:"max_tokens"    validate:"required,gte=1"`
	Config       map[string]any `json:"config"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// New constructs an Agent with a fresh ID, defaulted to active.
func New(name, provider, model string) *Agent {
	now := core.Now()
	return &Agent{
		ID:          core.NewID(),
		Name:        name,
		Provider:    provider,
		Model:       model,
		Temperature: 1.0,
		MaxTokens:   4096,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

var validate = validator.New()

// Validate checks struct-level constraints on the agent record.
func (a *Agent) Validate() error {
	if err := validate.Struct(a); err != nil {
		return core.NewError(err, core.CodeValidation, map[string]any{"agent": a.Name})
	}
	return nil
}

// EnsureActive returns AgentInactive when the agent has been soft-deactivated.
func (a *Agent) EnsureActive() error {
	if !a.Active {
		return core.NewErrorf(core.CodeAgentInactive, "agent %s is inactive", a.ID)
	}
	return nil
}

// AgentTool binds a Tool to an Agent with optional per-binding configuration.
// A tool is visible to an agent iff this row exists and both sides are active.
type AgentTool struct {
	ID        core.ID        `json:"id"`
	AgentID   core.ID        `json:"agent_id"   validate:"required"`
	ToolID    core.ID        `json:"tool_id"    validate:"required"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewAgentTool constructs a binding between an agent and a tool.
func NewAgentTool(agentID, toolID core.ID, config map[string]any) *AgentTool {
	return &AgentTool{
		ID:        core.NewID(),
		AgentID:   agentID,
		ToolID:    toolID,
		Config:    config,
		CreatedAt: core.Now(),
	}
}

// Validate checks struct-level constraints on the binding.
func (at *AgentTool) Validate() error {
	if err := validate.Struct(at); err != nil {
		return core.NewError(err, core.CodeValidation, nil)
	}
	return nil
}
