// Package schema validates tool and workflow input payloads against the
// JSON Schema documents persisted alongside Tool and Workflow records.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/compozy/orchestra/engine/core"
	"github.com/kaptinlin/jsonschema"
)

// Schema is a JSON Schema document expressed as a plain JSON tree, the same
// shape persisted in `input_schema_json`.
type Schema map[string]any

// Validate checks that s is a well-formed object schema: `type="object"` and
// a `properties` map.
func (s Schema) Validate() error {
	if s == nil {
		return nil
	}
	typ, _ := s["type"].(string)
	if typ != "object" {
		return core.NewErrorf(core.CodeValidation, "input schema must declare type=\"object\", got %q", typ)
	}
	if _, ok := s["properties"].(map[string]any); !ok {
		return core.NewErrorf(core.CodeValidation, "input schema must declare a properties map")
	}
	return nil
}

var compiler = jsonschema.NewCompiler()

// compiled wraps a compiled jsonschema.Schema for repeated validation against
// many input payloads without re-parsing the document each time.
type compiled struct {
	schema *jsonschema.Schema
}

// Compile parses s into a reusable validator.
func Compile(s Schema) (*compiled, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	parsed, err := compiler.Compile(raw)
	if err != nil {
		return nil, core.NewError(err, core.CodeValidation, map[string]any{"schema": s})
	}
	return &compiled{schema: parsed}, nil
}

// ValidatePayload validates input (already decoded JSON) against c.
func (c *compiled) ValidatePayload(input any) error {
	result := c.schema.Validate(input)
	if result.IsValid() {
		return nil
	}
	return core.NewErrorf(core.CodeInvalidInput, "input failed schema validation: %v", result.Errors)
}

// ValidateAgainst is a convenience one-shot: compile s and validate input.
func ValidateAgainst(s Schema, input any) error {
	c, err := Compile(s)
	if err != nil {
		return err
	}
	return c.ValidatePayload(input)
}
