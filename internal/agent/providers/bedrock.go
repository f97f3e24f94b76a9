package providers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/toolconv"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// BedrockProvider implements agent.Reasoner on the Bedrock Converse API.
// Authentication uses the AWS credential chain unless explicit keys are set.
//
// Thread Safety:
// BedrockProvider is safe for concurrent use across multiple goroutines.
type BedrockProvider struct {
	baseProvider
	client *bedrockruntime.Client
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1)
	Region string

	// AccessKeyID for explicit credentials (optional, uses default chain if empty)
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional)
	SecretAccessKey string

	// SessionToken for temporary credentials (optional)
	SessionToken string

	// Endpoint overrides the Bedrock runtime endpoint (optional)
	Endpoint string

	// DefaultModel is the model to use when not specified
	// (default: anthropic.claude-3-5-sonnet-20240620-v1:0)
	DefaultModel string
}

// NewBedrockProvider creates a new AWS Bedrock provider instance.
//
// Example with default credentials:
//
//	provider, err := NewBedrockProvider(BedrockConfig{
//	    Region: "us-east-1",
//	})
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &BedrockProvider{
		baseProvider: baseProvider{name: "bedrock", defaultModel: cfg.DefaultModel},
		client:       client,
	}, nil
}

// Reason performs one Converse call.
func (p *BedrockProvider) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	model := p.model(req.Model)
	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(model),
		Messages:   convertBedrockMessages(req.Messages),
		ToolConfig: toolconv.ToBedrockTools(req.Tools),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	if out.StopReason == types.StopReasonContentFiltered || out.StopReason == types.StopReasonGuardrailIntervened {
		return nil, NewProviderError(p.name, model, errors.New("response blocked")).WithCode("content_filter")
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError(p.name, model, errors.New("response has no message")).WithCode("server_error")
	}

	var text []string
	var calls []models.ToolCall
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text = append(text, b.Value)
		case *types.ContentBlockMemberToolUse:
			var args map[string]any
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					args = nil
				}
			}
			calls = append(calls, models.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: rawArgs(args),
			})
		}
	}
	return output(text, calls), nil
}

// convertBedrockMessages maps the context window onto Converse messages.
// Consecutive tool messages become one user message of tool results.
func convertBedrockMessages(messages []models.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for i := 0; i < len(messages); {
		msg := messages[i]
		switch msg.Role {
		case models.RoleTool:
			group, next := groupToolResults(messages, i)
			content := make([]types.ContentBlock, 0, len(group))
			for _, tr := range group {
				block := types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: tr.Content},
					},
				}
				if isErrorContent(tr.Content) {
					block.Status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{Value: block})
			}
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: content})
			i = next
			continue

		case models.RoleAssistant:
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(argsMap(tc.Arguments)),
					},
				})
			}
			if len(content) > 0 {
				result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: content})
			}

		case models.RoleUser:
			if msg.Content != "" {
				result = append(result, types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
				})
			}
		}
		i++
	}
	return result
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	return wrapError(p.name, model, err, status, code)
}
