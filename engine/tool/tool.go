// Package tool defines the Tool domain type and the Tool Dispatcher:
// resolving a tool name to a handler and invoking it with validated input.
package tool

import (
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schema"
	validator "github.com/go-playground/validator/v10"
)

// Kind identifies how the dispatcher reaches a tool's handler.
type Kind = core.ToolKind

// Tool is a capability descriptor: a named, schema-validated callable.
type Tool struct {
	ID          core.ID       `json:"id"`
	Name        string        `json:"name"        validate:"required,min=1,max=128"`
	Kind        Kind          `json:"kind"        validate:"required,oneof=IN_PROCESS EXTERNAL_RPC DOMAIN_API"`
	Description string        `json:"description"`
	InputSchema schema.Schema `json:"input_schema"`
	Handler     string        `json:"handler"     validate:"required"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// New constructs a Tool with a fresh ID, defaulted to active.
func New(name string, kind Kind, handler string) *Tool {
	now := core.Now()
	return &Tool{
		ID:        core.NewID(),
		Name:      name,
		Kind:      kind,
		Handler:   handler,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var validate = validator.New()

// Validate checks struct constraints and that the input schema, when present,
// is a well-formed object schema with a properties map.
func (t *Tool) Validate() error {
	if err := validate.Struct(t); err != nil {
		return core.NewError(err, core.CodeValidation, map[string]any{"tool": t.Name})
	}
	if t.InputSchema != nil {
		if err := t.InputSchema.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EnsureActive returns ToolNotFound for an inactive tool: callers cannot
// distinguish a deactivated tool from a missing one.
func (t *Tool) EnsureActive() error {
	if t == nil || !t.Active {
		return core.NewErrorf(core.CodeToolNotFound, "tool is inactive or missing")
	}
	return nil
}
