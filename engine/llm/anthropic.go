package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/compozy/orchestra/engine/core"
)

// messagesClient is the subset of the Anthropic SDK's Messages service the
// gateway calls, narrowed for testability.
type messagesClient interface {
	New(
		ctx context.Context,
		params anthropic.MessageNewParams,
		opts ...option.RequestOption,
	) (*anthropic.Message, error)
}

// AnthropicGateway adapts the Anthropic Messages API to the Gateway contract.
type AnthropicGateway struct {
	client       messagesClient
	defaultModel string
}

// NewAnthropicGateway builds a gateway from an API key.
func NewAnthropicGateway(apiKey, defaultModel string) *AnthropicGateway {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicGateway{client: &c.Messages, defaultModel: defaultModel}
}

// newAnthropicGatewayWithClient injects a messagesClient directly, used by
// tests to stub provider responses without a live API key.
func newAnthropicGatewayWithClient(client messagesClient, defaultModel string) *AnthropicGateway {
	return &AnthropicGateway{client: client, defaultModel: defaultModel}
}

// Complete issues one Anthropic Messages call and translates the result back
// to the gateway's provider-agnostic Response.
func (g *AnthropicGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages:    encodeMessages(req.Messages),
		Tools:       encodeTools(req.Tools),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	msg, err := g.client.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	return translateResponse(msg), nil
}

func encodeMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Kind {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case BlockToolUse:
				input, _ := json.Marshal(c.ToolInput)
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolUseID, input, c.ToolName))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolUseID, c.ResultJSON, c.IsToolError))
			}
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: props},
			},
		})
	}
	return out
}

func translateResponse(msg *anthropic.Message) *Response {
	content := make([]Content, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, Content{Kind: BlockText, Text: variant.Text})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(variant.Input, &input)
			content = append(content, Content{
				Kind:      BlockToolUse,
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				ToolInput: input,
			})
		}
	}
	return &Response{
		Content:    content,
		StopReason: translateStopReason(string(msg.StopReason)),
		Usage: core.TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}

func translateStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopOther
	}
}

// translateError classifies provider failures: network errors, rate limits
// (429) and server errors (5xx) are retryable transients, everything else is
// permanent.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return core.NewError(err, core.CodeTransient, map[string]any{"status": apiErr.StatusCode})
		}
		return core.NewError(err, core.CodeValidation, map[string]any{"status": apiErr.StatusCode})
	}
	if isNetworkError(err) {
		return core.NewError(err, core.CodeTransient, nil)
	}
	return core.NewError(err, core.CodeValidation, nil)
}

func isNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof")
}
