package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

var (
	validProviders     = []string{"openai", "azure", "anthropic", "google", "gemini", "bedrock"}
	validSessionStores = []string{"memory", "sqlite", "cockroach", "postgres"}
	validVectorStores  = []string{"sqlite", "pgvector", "postgres"}
	validEmbedders     = []string{"openai", "google", "gemini"}
	validLogLevels     = []string{"debug", "info", "warn", "warning", "error"}
	validLogFormats    = []string{"json", "text"}
	validToolModes     = []string{"concurrent", "sequential"}
)

// Validate checks a defaulted configuration.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if !oneOf(c.Logging.Level, validLogLevels) {
		add("logging.level %q must be one of %s", c.Logging.Level, strings.Join(validLogLevels, ", "))
	}
	if !oneOf(c.Logging.Format, validLogFormats) {
		add("logging.format %q must be one of %s", c.Logging.Format, strings.Join(validLogFormats, ", "))
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if !oneOf(c.LLM.Provider, validProviders) {
		add("llm.provider %q must be one of %s", c.LLM.Provider, strings.Join(validProviders, ", "))
	}
	if c.LLM.Provider == "azure" && c.LLM.BaseURL == "" {
		add("llm.base_url is required for azure")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must not be negative")
	}
	if c.LLM.Timeout < 0 {
		add("llm.timeout must not be negative")
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		add("llm.retry.max_attempts must be at least 1")
	}
	if c.LLM.Retry.MaxBackoff < c.LLM.Retry.InitialBackoff {
		add("llm.retry.max_backoff must be at least initial_backoff")
	}
	for i, fb := range c.LLM.Fallbacks {
		if !oneOf(fb.Provider, validProviders) {
			add("llm.fallbacks[%d].provider %q must be one of %s", i, fb.Provider, strings.Join(validProviders, ", "))
		}
		if strings.EqualFold(fb.Provider, "azure") && fb.BaseURL == "" {
			add("llm.fallbacks[%d].base_url is required for azure", i)
		}
	}
	if c.LLM.CircuitBreaker.Threshold < 1 || c.LLM.CircuitBreaker.Cooldown <= 0 {
		add("llm.circuit_breaker requires threshold >= 1 and a positive cooldown")
	}

	if c.Agent.MaxIterations < 1 {
		add("agent.max_iterations must be at least 1")
	}
	if c.Agent.HistoryLimit < 1 {
		add("agent.history_limit must be at least 1")
	}
	if !oneOf(c.Agent.ToolExecution.Mode, validToolModes) {
		add("agent.tool_execution.mode %q must be concurrent or sequential", c.Agent.ToolExecution.Mode)
	}
	if c.Agent.ToolExecution.MaxConcurrency < 1 {
		add("agent.tool_execution.max_concurrency must be at least 1")
	}
	if c.Agent.ToolExecution.Timeout <= 0 {
		add("agent.tool_execution.timeout must be positive")
	}

	if !oneOf(c.Sessions.Backend, validSessionStores) {
		add("sessions.backend %q must be one of %s", c.Sessions.Backend, strings.Join(validSessionStores, ", "))
	}
	if (c.Sessions.Backend == "cockroach" || c.Sessions.Backend == "postgres") && c.Sessions.DSN == "" {
		add("sessions.dsn is required for the %s backend", c.Sessions.Backend)
	}

	if chunking := c.RAG.Chunking; chunking.ChunkSize < 1 || chunking.ChunkOverlap < 0 || chunking.ChunkOverlap >= chunking.ChunkSize {
		add("rag.chunking requires chunk_size >= 1 and 0 <= chunk_overlap < chunk_size")
	}

	if c.RAG.Enabled {
		if c.RAG.TopK < 1 {
			add("rag.top_k must be at least 1")
		}
		if !oneOf(c.RAG.Embeddings.Provider, validEmbedders) {
			add("rag.embeddings.provider %q must be one of %s", c.RAG.Embeddings.Provider, strings.Join(validEmbedders, ", "))
		}
		if !oneOf(c.RAG.Store.Backend, validVectorStores) {
			add("rag.store.backend %q must be one of %s", c.RAG.Store.Backend, strings.Join(validVectorStores, ", "))
		}
		if c.RAG.Store.Backend != "sqlite" && c.RAG.Store.DSN == "" {
			add("rag.store.dsn is required for the %s backend", c.RAG.Store.Backend)
		}
		s3 := c.RAG.Catalog.S3
		if (s3.Bucket == "") != (s3.Key == "") {
			add("rag.catalog.s3 requires both bucket and key")
		}
		if c.RAG.Catalog.Path == "" && s3.Bucket == "" {
			add("rag.catalog.path or rag.catalog.s3 is required when rag is enabled")
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
