package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/providers"
	"github.com/haasonsaas/groundwork/internal/backoff"
	"github.com/haasonsaas/groundwork/internal/config"
	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/internal/rag"
	"github.com/haasonsaas/groundwork/internal/rag/catalog"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"github.com/haasonsaas/groundwork/internal/sessions"
	ragtool "github.com/haasonsaas/groundwork/internal/tools/rag"
	"github.com/prometheus/client_golang/prometheus"
)

// loadConfig reads the configuration file. A missing default file falls
// back to built-in defaults so the CLI works without any setup.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if path == defaultConfigName {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// app owns the long-lived dependencies of one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	closers  []func(context.Context) error
}

func newApp(cfg *config.Config, logOutput io.Writer) *app {
	a := &app{
		cfg: cfg,
		logger: observability.NewLogger(observability.LogConfig{
			Level:          cfg.Logging.Level,
			Format:         cfg.Logging.Format,
			Output:         logOutput,
			AddSource:      cfg.Logging.AddSource,
			RedactPatterns: cfg.Logging.RedactPatterns,
		}),
	}
	if cfg.Observability.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}

	tracing := cfg.Observability.Tracing
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		Environment:    tracing.Environment,
		Endpoint:       tracing.Endpoint,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		EnableInsecure: tracing.Insecure,
	})
	a.tracer = tracer
	a.onClose(shutdown)
	return a
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition and writes the
// metrics textfile when one is configured.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if path := a.cfg.Observability.Metrics.Path; a.registry != nil && path != "" {
		if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) openStore() (sessions.Store, error) {
	store, err := sessions.NewStore(sessions.StoreConfig{
		Backend:    a.cfg.Sessions.Backend,
		DSN:        a.cfg.Sessions.DSN,
		SQLitePath: a.cfg.Sessions.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.onClose(func(context.Context) error { return store.Close() })
	return store, nil
}

// openSessionDB returns the SQL handle and dialect behind the session store.
func (a *app) openSessionDB() (*sql.DB, sessions.Dialect, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, "", err
	}
	withDB, ok := store.(interface{ DB() *sql.DB })
	if !ok {
		return nil, "", fmt.Errorf("session backend %q has no database schema", a.cfg.Sessions.Backend)
	}
	dialect := sessions.DialectPostgres
	if strings.EqualFold(a.cfg.Sessions.Backend, sessions.BackendSQLite) {
		dialect = sessions.DialectSQLite
	}
	return withDB.DB(), dialect, nil
}

func (a *app) openRetrieval(ctx context.Context) (*rag.Service, error) {
	svc, err := rag.Open(ctx, ragOptions(a.cfg.RAG))
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	svc.WithObservability(a.logger, a.metrics)
	a.onClose(func(context.Context) error { return svc.Close() })
	return svc, nil
}

func ragOptions(cfg config.RAGConfig) rag.Options {
	return rag.Options{
		Embeddings: embeddings.Config{
			Provider:  cfg.Embeddings.Provider,
			APIKey:    cfg.Embeddings.APIKey,
			BaseURL:   cfg.Embeddings.BaseURL,
			Model:     cfg.Embeddings.Model,
			Dimension: cfg.Embeddings.Dimension,
		},
		Store: rag.StoreConfig{
			Backend:    cfg.Store.Backend,
			DSN:        cfg.Store.DSN,
			SQLitePath: cfg.Store.SQLitePath,
			Dimension:  cfg.Store.Dimension,
		},
		Catalog: rag.CatalogConfig{
			Path: cfg.Catalog.Path,
			S3: catalog.S3Location{
				Bucket:   cfg.Catalog.S3.Bucket,
				Key:      cfg.Catalog.S3.Key,
				Region:   cfg.Catalog.S3.Region,
				Endpoint: cfg.Catalog.S3.Endpoint,
			},
		},
		Service: rag.Config{
			TopK:     cfg.TopK,
			MinScore: cfg.MinScore,
		},
	}
}

// newReasoner builds the configured backend, each fallback, and a failover
// chain over them. Every backend retries on its own before failing over.
func (a *app) newReasoner() (agent.Reasoner, error) {
	llm := a.cfg.LLM
	primary, err := a.newBackend(providers.Config{
		Provider:        llm.Provider,
		APIKey:          llm.APIKey,
		BaseURL:         llm.BaseURL,
		Organization:    llm.Organization,
		DefaultModel:    llm.Model,
		APIVersion:      llm.APIVersion,
		Region:          llm.Region,
		AccessKeyID:     llm.AccessKeyID,
		SecretAccessKey: llm.SecretAccessKey,
		SessionToken:    llm.SessionToken,
	})
	if err != nil {
		return nil, err
	}
	if len(llm.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]agent.Reasoner, 0, len(llm.Fallbacks))
	for _, fb := range llm.Fallbacks {
		backend, err := a.newBackend(providers.Config{
			Provider:     fb.Provider,
			APIKey:       fb.APIKey,
			BaseURL:      fb.BaseURL,
			Organization: fb.Organization,
			DefaultModel: fb.Model,
			APIVersion:   fb.APIVersion,
			Region:       fb.Region,
		})
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, backend)
	}
	return agent.NewFailoverReasoner(primary, fallbacks, agent.FailoverConfig{
		CircuitBreakerThreshold: llm.CircuitBreaker.Threshold,
		CircuitBreakerTimeout:   llm.CircuitBreaker.Cooldown,
	}).WithObservability(a.logger, a.metrics), nil
}

func (a *app) newBackend(cfg providers.Config) (agent.Reasoner, error) {
	backend, err := providers.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s reasoner: %w", cfg.Provider, err)
	}
	retry := a.cfg.LLM.Retry
	return agent.NewRetryingReasoner(backend, agent.RetryConfig{
		MaxAttempts:    retry.MaxAttempts,
		Policy:         backoff.PolicyFromDurations(retry.InitialBackoff, retry.MaxBackoff),
		AttemptTimeout: a.cfg.LLM.Timeout,
	}).WithObservability(a.logger, a.metrics, a.tracer), nil
}

func (a *app) newTools(ctx context.Context) ([]agent.Tool, error) {
	if !a.cfg.RAG.Enabled {
		return nil, nil
	}
	svc, err := a.openRetrieval(ctx)
	if err != nil {
		return nil, err
	}
	return []agent.Tool{ragtool.NewRetrieveTool(svc, a.cfg.RAG.TopK)}, nil
}

// newOrchestrator assembles the loop. A tape session, when active, supplies
// the reasoner and tools instead of the configured backends.
func (a *app) newOrchestrator(ctx context.Context, tapes *tapeSession) (*agent.Orchestrator, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	var (
		reasoner agent.Reasoner
		tools    []agent.Tool
	)
	if tapes.replaying() {
		reasoner, tools = tapes.replayer, tapes.replayer.Tools()
	} else {
		if reasoner, err = a.newReasoner(); err != nil {
			return nil, err
		}
		if tools, err = a.newTools(ctx); err != nil {
			return nil, err
		}
		reasoner, tools = tapes.wrap(reasoner, tools)
	}

	registry := agent.NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}

	// Each backend applies its own default model; a request-level model
	// would be sent to fallbacks of a different provider.
	model := a.cfg.LLM.Model
	if len(a.cfg.LLM.Fallbacks) > 0 {
		model = ""
	}

	agentCfg := a.cfg.Agent
	return agent.NewOrchestrator(reasoner, registry, store, agent.LoopConfig{
		MaxIterations:  agentCfg.MaxIterations,
		HistoryLimit:   agentCfg.HistoryLimit,
		MaxTokens:      a.cfg.LLM.MaxTokens,
		Model:          model,
		SystemPrompt:   a.cfg.LLM.SystemPrompt,
		PersistTimeout: agentCfg.PersistTimeout,
		Executor: agent.ExecutorConfig{
			Mode:           agent.ExecutionMode(strings.ToLower(agentCfg.ToolExecution.Mode)),
			MaxConcurrency: agentCfg.ToolExecution.MaxConcurrency,
			Timeout:        agentCfg.ToolExecution.Timeout,
		},
	},
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(a.tracer),
	)
}
