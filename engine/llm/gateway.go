// Package llm implements the LLM Gateway: a single stateless request
// to a chat/completion provider, translated to and from a provider-agnostic
// message and tool-use representation.
package llm

import (
	"context"

	"github.com/compozy/orchestra/engine/core"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates a Content block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Content is one block of a Message: either text, a tool invocation emitted
// by the model, or a tool result fed back to it.
type Content struct {
	Kind        BlockKind      `json:"kind"`
	Text        string         `json:"text,omitempty"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	ResultJSON  string         `json:"result_json,omitempty"`
	IsToolError bool           `json:"is_error,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// ToolSpec describes one entry of the tool catalog offered for a turn.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// StopReason is why the provider ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Request is a single-turn completion request.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
}

// Response is the gateway's typed reply.
type Response struct {
	Content    []Content
	StopReason StopReason
	Usage      core.TokenUsage
}

// Gateway issues one request to a named provider/model.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
