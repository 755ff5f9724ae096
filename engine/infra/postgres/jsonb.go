package postgres

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToJSONB marshals a value to JSONB-compatible bytes, returning nil for nil input.
func ToJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling to jsonb: %w", err)
	}
	return data, nil
}

// FromJSONB unmarshals JSONB data into a pointer, setting nil if the source is nil.
func FromJSONB[T any](src []byte, dst **T) error {
	if src == nil {
		*dst = nil
		return nil
	}
	var target T
	if err := json.Unmarshal(src, &target); err != nil {
		return fmt.Errorf("unmarshaling from jsonb: %w", err)
	}
	*dst = &target
	return nil
}

// decodeJSONB unmarshals JSONB data directly into out, leaving it at its
// zero value when src is nil. Unlike FromJSONB, out is not itself optional --
// this is the right shape for map/slice-typed columns like context_data or
// input_schema where there is no meaningful "absent vs empty" distinction.
func decodeJSONB[T any](src []byte, out *T) error {
	if src == nil {
		return nil
	}
	if err := json.Unmarshal(src, out); err != nil {
		return fmt.Errorf("unmarshaling from jsonb: %w", err)
	}
	return nil
}
