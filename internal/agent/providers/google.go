package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/toolconv"
	"github.com/haasonsaas/groundwork/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.Reasoner on the Gemini API.
//
// Gemini identifies function responses by function name rather than by
// call ID, so tool messages are matched back to the assistant call that
// produced them. Gemini may omit call IDs; missing IDs are generated.
//
// Thread Safety:
// GoogleProvider is safe for concurrent use.
type GoogleProvider struct {
	baseProvider
	client *genai.Client
}

// GoogleConfig holds configuration parameters for creating a GoogleProvider.
type GoogleConfig struct {
	// APIKey is the Google AI API authentication key (required).
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel sets the model to use when the request doesn't specify one.
	// Default: "gemini-2.0-flash"
	DefaultModel string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewGoogleProvider creates a new Google provider instance.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("google: %w: API key is required", ErrNotConfigured)
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		baseProvider: baseProvider{name: "google", defaultModel: config.DefaultModel},
		client:       client,
	}, nil
}

// Reason performs one GenerateContent call.
func (p *GoogleProvider) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	model := p.model(req.Model)

	resp, err := p.client.Models.GenerateContent(ctx, model, convertGeminiMessages(req.Messages), buildGeminiConfig(req))
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, NewProviderError(p.name, model, errors.New("prompt blocked")).WithCode("content_filter")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewProviderError(p.name, model, errors.New("response has no candidates")).WithCode("server_error")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, NewProviderError(p.name, model, errors.New("response blocked")).WithCode("content_filter")
	}

	var text []string
	var calls []models.ToolCall
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = generateToolCallID()
			}
			calls = append(calls, models.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: rawArgs(fc.Args),
			})
		}
	}
	return output(text, calls), nil
}

func buildGeminiConfig(req *agent.ReasonRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

// convertGeminiMessages maps roles onto user/model contents. Consecutive
// tool messages become one user content of function responses.
func convertGeminiMessages(messages []models.Message) []*genai.Content {
	callNames := make(map[string]string)
	result := make([]*genai.Content, 0, len(messages))

	for i := 0; i < len(messages); {
		msg := messages[i]
		switch msg.Role {
		case models.RoleTool:
			group, next := groupToolResults(messages, i)
			content := &genai.Content{Role: genai.RoleUser}
			for _, tr := range group {
				name := tr.ToolName
				if name == "" {
					name = callNames[tr.ToolCallID]
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.ToolCallID,
						Name:     name,
						Response: geminiToolResponse(tr.Content),
					},
				})
			}
			result = append(result, content)
			i = next
			continue

		case models.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: argsMap(tc.Arguments),
					},
				})
			}
			if len(content.Parts) > 0 {
				result = append(result, content)
			}

		case models.RoleUser:
			if msg.Content != "" {
				result = append(result, genai.NewContentFromText(msg.Content, genai.RoleUser))
			}
		}
		i++
	}
	return result
}

// geminiToolResponse wraps rendered tool content. Gemini expects an object,
// so success content goes under "output" and failures under "error".
func geminiToolResponse(content string) map[string]any {
	if isErrorContent(content) {
		return map[string]any{"error": strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(content, "error"), ":"))}
	}
	return map[string]any{"output": content}
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapError(p.name, model, err, apiErr.Code, apiErr.Status)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return wrapError(p.name, model, err, apiErrPtr.Code, apiErrPtr.Status)
	}
	return wrapError(p.name, model, err, 0, "")
}

// generateToolCallID generates an ID for a call Gemini returned without one.
func generateToolCallID() string {
	return "call_" + uuid.NewString()
}
