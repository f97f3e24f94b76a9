package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/toolconv"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// AnthropicProvider implements agent.Reasoner on the Claude Messages API.
//
// The system prompt travels in params.System, tool calls are tool_use
// blocks on assistant messages, and tool results are tool_result blocks
// grouped into a single user message.
//
// Thread Safety:
// AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	baseProvider
	client           anthropic.Client
	defaultMaxTokens int
}

// AnthropicConfig holds configuration parameters for creating an AnthropicProvider.
//
// Example:
//
//	config := AnthropicConfig{
//	    APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
//	    DefaultModel: "claude-sonnet-4-20250514",
//	}
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// DefaultModel sets the model to use when the request doesn't specify one.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string

	// DefaultMaxTokens applies when the request leaves MaxTokens at zero.
	// The Messages API requires a value. Default: 4096
	DefaultMaxTokens int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// The SDK's internal retries are disabled; agent.RetryingReasoner owns the
// retry budget.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w: API key is required", ErrNotConfigured)
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.DefaultMaxTokens <= 0 {
		config.DefaultMaxTokens = 4096
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicProvider{
		baseProvider:     baseProvider{name: "anthropic", defaultModel: config.DefaultModel},
		client:           anthropic.NewClient(options...),
		defaultMaxTokens: config.DefaultMaxTokens,
	}, nil
}

// Reason sends one Messages request and collects text and tool_use blocks.
func (p *AnthropicProvider) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	model := p.model(req.Model)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.defaultMaxTokens
	}

	tools, err := toolconv.ToAnthropicTools(req.Tools)
	if err != nil {
		return nil, NewProviderError(p.name, model, err).WithCode("invalid_request_error")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	var text []string
	var calls []models.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			calls = append(calls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: normalizeArgs(string(block.Input)),
			})
		}
	}
	return output(text, calls), nil
}

// convertAnthropicMessages maps the context window onto alternating
// user/assistant messages. Consecutive tool messages become one user
// message of tool_result blocks.
func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for i := 0; i < len(messages); {
		msg := messages[i]
		switch msg.Role {
		case models.RoleTool:
			group, next := groupToolResults(messages, i)
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(group))
			for _, tr := range group {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, isErrorContent(tr.Content)))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
			i = next
			continue

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, argsMap(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}

		case models.RoleUser:
			if msg.Content != "" {
				result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
		i++
	}
	return result
}

// isErrorContent reports whether rendered tool content describes a failure.
func isErrorContent(content string) bool {
	return strings.HasPrefix(content, "error")
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return wrapError(p.name, model, err, 0, "")
	}

	providerErr := NewProviderError(p.name, model, err).WithStatus(apiErr.StatusCode)
	providerErr.Message = "anthropic request failed"
	requestID := apiErr.RequestID

	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if requestID != "" {
		providerErr.WithRequestID(requestID)
	}
	return providerErr
}
