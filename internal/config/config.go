package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the main configuration structure for groundwork.
type Config struct {
	Version       int                 `yaml:"version"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	RAG           RAGConfig           `yaml:"rag"`
}

// AgentConfig bounds each turn.
type AgentConfig struct {
	// MaxIterations limits reasoner invocations per turn. Default: 5.
	MaxIterations int `yaml:"max_iterations"`

	// HistoryLimit is the number of prior turns loaded as context. Default: 20.
	HistoryLimit int `yaml:"history_limit"`

	// PersistTimeout bounds each message store write. Default: 10s.
	PersistTimeout time.Duration `yaml:"persist_timeout"`

	ToolExecution ToolExecutionConfig `yaml:"tool_execution"`
}

// ToolExecutionConfig controls how a batch of tool calls runs.
type ToolExecutionConfig struct {
	// Mode is concurrent or sequential. Default: concurrent.
	Mode string `yaml:"mode"`

	// MaxConcurrency bounds parallel calls. Default: 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Timeout bounds each call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// SessionsConfig selects the message store.
type SessionsConfig struct {
	// Backend is memory, sqlite, cockroach or postgres. Default: sqlite.
	Backend    string `yaml:"backend"`
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// Load reads, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills unset credentials from the conventional
// environment variables of each backend.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(apiKeyEnv(cfg.LLM.Provider))
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = os.Getenv("AWS_REGION")
	}
	for i := range cfg.LLM.Fallbacks {
		fb := &cfg.LLM.Fallbacks[i]
		if fb.APIKey == "" {
			fb.APIKey = os.Getenv(apiKeyEnv(fb.Provider))
		}
		if fb.Region == "" {
			fb.Region = os.Getenv("AWS_REGION")
		}
	}
	if cfg.RAG.Embeddings.APIKey == "" {
		cfg.RAG.Embeddings.APIKey = os.Getenv(apiKeyEnv(cfg.RAG.Embeddings.Provider))
	}
	if cfg.RAG.Catalog.S3.Region == "" {
		cfg.RAG.Catalog.S3.Region = os.Getenv("AWS_REGION")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = os.Getenv("LOG_LEVEL")
	}
}

func apiKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "google", "gemini":
		return "GOOGLE_API_KEY"
	case "azure":
		return "AZURE_OPENAI_API_KEY"
	case "bedrock":
		return ""
	default:
		return "OPENAI_API_KEY"
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "groundwork"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.Retry.MaxAttempts == 0 {
		cfg.LLM.Retry.MaxAttempts = 5
	}
	if cfg.LLM.Retry.InitialBackoff == 0 {
		cfg.LLM.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.LLM.Retry.MaxBackoff == 0 {
		cfg.LLM.Retry.MaxBackoff = 10 * time.Second
	}
	if cfg.LLM.CircuitBreaker.Threshold == 0 {
		cfg.LLM.CircuitBreaker.Threshold = 3
	}
	if cfg.LLM.CircuitBreaker.Cooldown == 0 {
		cfg.LLM.CircuitBreaker.Cooldown = 30 * time.Second
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = 20
	}
	if cfg.Agent.PersistTimeout == 0 {
		cfg.Agent.PersistTimeout = 10 * time.Second
	}
	if cfg.Agent.ToolExecution.Mode == "" {
		cfg.Agent.ToolExecution.Mode = "concurrent"
	}
	if cfg.Agent.ToolExecution.MaxConcurrency == 0 {
		cfg.Agent.ToolExecution.MaxConcurrency = 4
	}
	if cfg.Agent.ToolExecution.Timeout == 0 {
		cfg.Agent.ToolExecution.Timeout = 30 * time.Second
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "sqlite"
	}
	if cfg.Sessions.Backend == "sqlite" && cfg.Sessions.SQLitePath == "" {
		cfg.Sessions.SQLitePath = "groundwork.db"
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.Embeddings.Provider == "" {
		cfg.RAG.Embeddings.Provider = "openai"
	}
	if cfg.RAG.Store.Backend == "" {
		cfg.RAG.Store.Backend = "sqlite"
	}
	if cfg.RAG.Store.Backend == "sqlite" && cfg.RAG.Store.SQLitePath == "" {
		cfg.RAG.Store.SQLitePath = "groundwork-vectors.db"
	}
	if cfg.RAG.Chunking.ChunkSize == 0 {
		cfg.RAG.Chunking.ChunkSize = 1000
	}
	if cfg.RAG.Chunking.ChunkOverlap == 0 {
		cfg.RAG.Chunking.ChunkOverlap = 200
	}
	if cfg.RAG.Chunking.MinChunkSize == 0 {
		cfg.RAG.Chunking.MinChunkSize = 100
	}
}
