package config

import "time"

// LLMConfig selects and configures the reasoning backend.
type LLMConfig struct {
	// Provider is openai, azure, anthropic, google or bedrock. Default: openai.
	Provider string `yaml:"provider"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`

	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`

	// Region and the credential fields apply to bedrock. Empty credentials
	// use the default AWS chain.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// SystemPrompt replaces the built-in grounding prompt when set.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens limits each response. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds each backend attempt. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	Retry LLMRetryConfig `yaml:"retry"`

	// Fallbacks are tried in order when the primary backend fails in a way
	// another backend might survive. They share Retry and Timeout.
	Fallbacks []LLMBackendConfig `yaml:"fallbacks"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LLMBackendConfig configures a fallback backend. Bedrock fallbacks use the
// default AWS credential chain.
type LLMBackendConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	APIVersion   string `yaml:"api_version"`
	Region       string `yaml:"region"`
}

// CircuitBreakerConfig skips a backend after repeated failures. It only
// applies when fallbacks are configured.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures that open the circuit. Default: 3.
	Threshold int `yaml:"threshold"`

	// Cooldown is how long an open circuit skips its backend. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown"`
}

// LLMRetryConfig bounds retries of transient backend failures.
type LLMRetryConfig struct {
	// MaxAttempts includes the first call. Default: 5.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay after the first failure. Default: 500ms.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps any single delay. Default: 10s.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}
