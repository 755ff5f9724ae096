package schema

import (
	"context"
	"encoding/json"

	"github.com/compozy/orchestra/engine/core"
)

// ParamsValidator validates a typed params value against an optional schema,
// used to check agent/tool/workflow input payloads before execution.
type ParamsValidator[T any] struct {
	params      T
	schema      *Schema
	validatorID string
}

// NewParamsValidator builds a validator for params against schema (may be
// nil, in which case Validate always succeeds). validatorID is included in
// validation error messages to identify which binding failed.
func NewParamsValidator[T any](params T, schema *Schema, validatorID string) *ParamsValidator[T] {
	return &ParamsValidator[T]{params: params, schema: schema, validatorID: validatorID}
}

// Validate re-marshals params to a plain JSON value and checks it against the schema.
func (v *ParamsValidator[T]) Validate(_ context.Context) error {
	if v.schema == nil {
		return nil
	}
	raw, err := json.Marshal(v.params)
	if err != nil {
		return core.NewError(err, core.CodeInvalidInput, map[string]any{"validator": v.validatorID})
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return core.NewError(err, core.CodeInvalidInput, map[string]any{"validator": v.validatorID})
	}
	if err := ValidateAgainst(*v.schema, decoded); err != nil {
		if appErr, ok := err.(*core.Error); ok {
			if appErr.Details == nil {
				appErr.Details = map[string]any{}
			}
			appErr.Details["validator"] = v.validatorID
			return appErr
		}
		return err
	}
	return nil
}
