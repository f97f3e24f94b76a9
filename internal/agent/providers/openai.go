package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/toolconv"
	"github.com/haasonsaas/groundwork/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.Reasoner on the Chat Completions API.
//
// It also serves Azure OpenAI deployments and OpenAI-compatible gateways
// (OpenRouter, Ollama, vLLM) through BaseURL.
//
// Key differences from the Anthropic provider:
//   - The system prompt is the first message of the conversation
//   - Each tool result is a separate tool-role message
//   - Tool arguments travel as JSON strings
//
// Thread Safety:
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	baseProvider
	client *openai.Client
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint for compatible gateways.
	BaseURL string

	// Organization is sent as the OpenAI-Organization header.
	Organization string

	// DefaultModel is used when the request leaves Model empty.
	// Default: gpt-4o
	DefaultModel string

	// Azure selects Azure OpenAI. BaseURL is the resource endpoint and
	// models name deployments.
	Azure bool

	// AzureAPIVersion defaults to 2024-02-15-preview.
	AzureAPIVersion string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewOpenAIProvider creates an OpenAI provider.
//
// Example:
//
//	provider, err := NewOpenAIProvider(OpenAIConfig{
//	    APIKey:       os.Getenv("OPENAI_API_KEY"),
//	    DefaultModel: "gpt-4o",
//	})
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: API key is required", ErrNotConfigured)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	name := "openai"
	var clientConfig openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure: %w: endpoint is required", ErrNotConfigured)
		}
		if cfg.AzureAPIVersion == "" {
			cfg.AzureAPIVersion = "2024-02-15-preview"
		}
		name = "azure"
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		clientConfig.APIVersion = cfg.AzureAPIVersion
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.OrgID = cfg.Organization
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		baseProvider: baseProvider{name: name, defaultModel: cfg.DefaultModel},
		client:       openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Reason performs one chat completion with the tool catalog attached.
func (p *OpenAIProvider) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	model := p.model(req.Model)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertToOpenAIMessages(req.Messages, req.System),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(p.name, model, errors.New("response has no choices")).WithCode("server_error")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, NewProviderError(p.name, model, errors.New("response blocked")).WithCode("content_filter")
	}

	calls := make([]models.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArgs(tc.Function.Arguments),
		})
	}
	return output([]string{choice.Message.Content}, calls), nil
}

// convertToOpenAIMessages prepends the system prompt and maps roles
// one-to-one.
func convertToOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(normalizeArgs(string(tc.Arguments))),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		if code == "" {
			code = apiErr.Type
		}
		return wrapError(p.name, model, err, apiErr.HTTPStatusCode, code)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrapError(p.name, model, err, reqErr.HTTPStatusCode, "")
	}
	return wrapError(p.name, model, err, 0, "")
}
