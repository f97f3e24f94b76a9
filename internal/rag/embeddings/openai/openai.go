// Package openai provides an embedder using OpenAI's embedding models.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"github.com/sashabaranov/go-openai"
)

// Provider implements embeddings.Embedder using OpenAI.
type Provider struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ embeddings.Embedder = (*Provider)(nil)

// Config contains configuration for the OpenAI embedder.
type Config struct {
	APIKey  string
	BaseURL string // Optional custom base URL
	Model   string // text-embedding-3-small or text-embedding-3-large

	// Dimension requests shortened vectors from text-embedding-3 models.
	// 0 keeps the model's native size.
	Dimension int

	HTTPClient *http.Client
}

// New creates a new OpenAI embedder.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	return &Provider{
		client:    openai.NewClientWithConfig(config),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Dimension returns the embedding dimension for the configured model.
func (p *Provider) Dimension() int {
	if p.dimension > 0 {
		return p.dimension
	}
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// MaxBatchSize returns the maximum number of texts per batch.
func (p *Provider) MaxBatchSize() int {
	return 2048
}

// Embed generates an embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embeddings.First(ctx, p, text)
}

// EmbedBatch generates embeddings for multiple texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimension > 0 {
		req.Dimensions = p.dimension
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	results := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(results) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		results[data.Index] = data.Embedding
	}
	if err := embeddings.CheckBatch(results, len(texts)); err != nil {
		return nil, err
	}
	return results, nil
}
