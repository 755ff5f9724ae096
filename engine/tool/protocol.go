package tool

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Request is the envelope a dispatch handler receives.
type Request struct {
	ID          string          `json:"id"`
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Input       json.RawMessage `json:"input"`
}

// NewRequest builds a Request, marshaling input to raw JSON and stamping a
// fresh correlation id.
func NewRequest(toolName string, input any) (*Request, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:       uuid.NewString(),
		ToolName: toolName,
		Input:    raw,
	}, nil
}

// Response is what a dispatch produces: either a JSON result or an error blob
// the Agent Execution Engine feeds back to the model as a tool_result.
type Response struct {
	ID      string          `json:"id"`
	Output  json.RawMessage `json:"output,omitempty"`
	IsError bool            `json:"is_error"`
	Error   string          `json:"error,omitempty"`
}

// ErrorResponse builds a Response carrying a tool-level error blob the
// upstream agent loop can observe as a tool result.
func ErrorResponse(id string, err error) *Response {
	return &Response{ID: id, IsError: true, Error: err.Error()}
}
