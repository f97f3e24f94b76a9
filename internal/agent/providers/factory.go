package providers

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/groundwork/internal/agent"
)

// Config selects and configures a model backend.
type Config struct {
	// Provider is one of openai, azure, anthropic, google, bedrock.
	Provider string

	APIKey       string
	BaseURL      string
	Organization string
	DefaultModel string

	// Azure only.
	APIVersion string

	// Bedrock only.
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (agent.Reasoner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Organization: cfg.Organization,
			DefaultModel: cfg.DefaultModel,
		})
	case "azure":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			DefaultModel:    cfg.DefaultModel,
			Azure:           true,
			AzureAPIVersion: cfg.APIVersion,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	case "google", "gemini":
		return NewGoogleProvider(GoogleConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Endpoint:        cfg.BaseURL,
			DefaultModel:    cfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
