package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/groundwork/pkg/models"
)

// Reasoner decides, for the current context window, whether to answer
// directly or to request tool calls.
//
// Implementations wrap a language-model backend (see the providers package).
// They must distinguish "no tool needed" (a nil error with text and no calls)
// from "model call failed" (a non-nil error).
//
// Thread Safety:
// Implementations must be safe for concurrent use. Independent sessions
// call Reason simultaneously.
//
// See Also:
//   - providers.OpenAIProvider, providers.AnthropicProvider,
//     providers.GoogleProvider, providers.BedrockProvider
//   - RetryingReasoner for bounded retries around a backend
type Reasoner interface {
	// Reason invokes the backend once with the full message history and tool catalog.
	Reason(ctx context.Context, req *ReasonRequest) (*ReasonerOutput, error)

	// Name returns the backend name used in logs and metrics.
	Name() string
}

// ReasonRequest contains all parameters for one reasoning step.
//
// Example:
//
//	req := &ReasonRequest{
//	    Model:    "gpt-4o",
//	    System:   "Answer using the knowledge base when relevant.",
//	    Messages: []models.Message{{Role: models.RoleUser, Content: "sepsis bundle guidelines"}},
//	    Tools:    registry.Definitions(),
//	}
type ReasonRequest struct {
	// Model selects the backend model. Empty uses the backend default.
	Model string `json:"model,omitempty"`

	// System is the system prompt, handled separately from Messages.
	System string `json:"system,omitempty"`

	// Messages is the context window in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools is the complete tool catalog, supplied on every invocation.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the generated response. 0 uses the backend default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ReasonerOutput is the decision returned by a Reasoner: text, tool calls,
// or both. Text that accompanies tool calls explains intent.
type ReasonerOutput struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the output requests any tools.
func (o *ReasonerOutput) HasToolCalls() bool {
	return o != nil && len(o.ToolCalls) > 0
}

// ToolDefinition is the declarative description of a tool given to a Reasoner.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Tool is an executable capability exposed to the Reasoner.
//
// Tools are compile-time implementations registered once in a ToolRegistry
// and looked up by name at runtime.
type Tool interface {
	// Name returns the tool name. It must be unique and never change once published.
	Name() string

	// Description returns a natural-language description used by the Reasoner
	// to decide applicability.
	Description() string

	// Schema returns the JSON Schema of the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool with already-validated arguments.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's native return value before normalization.
//
// Retrieval tools set Records (an empty, non-nil slice means "no matches").
// IsError marks a tool-reported failure described by Content.
type ToolResult struct {
	Records []models.FactRecord `json:"records,omitempty"`
	Content string              `json:"content,omitempty"`
	IsError bool                `json:"is_error,omitempty"`
}
