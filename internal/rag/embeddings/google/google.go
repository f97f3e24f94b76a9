// Package google provides an embedder on the Gemini embedding models.
package google

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"google.golang.org/genai"
)

// Task types understood by Gemini embedding models.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// Provider implements embeddings.Embedder using Gemini.
type Provider struct {
	client    *genai.Client
	model     string
	dimension int
	taskType  string
}

var _ embeddings.Embedder = (*Provider)(nil)

// Config contains configuration for the Gemini embedder.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string // default text-embedding-004

	// Dimension truncates output vectors. 0 keeps the model's native size.
	Dimension int

	// TaskType is sent with every request. Default RETRIEVAL_DOCUMENT.
	TaskType string

	HTTPClient *http.Client
}

// New creates a Gemini embedder.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.TaskType == "" {
		cfg.TaskType = TaskRetrievalDocument
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Provider{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		taskType:  cfg.TaskType,
	}, nil
}

// WithTaskType returns a copy that sends taskType instead.
func (p *Provider) WithTaskType(taskType string) *Provider {
	clone := *p
	clone.taskType = taskType
	return &clone
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "google"
}

// Dimension returns the embedding dimension.
func (p *Provider) Dimension() int {
	if p.dimension > 0 {
		return p.dimension
	}
	return 768
}

// MaxBatchSize returns the maximum number of texts per batch.
func (p *Provider) MaxBatchSize() int {
	return 100
}

// Embed generates an embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embeddings.First(ctx, p, text)
}

// EmbedBatch generates embeddings for texts in one EmbedContent call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	config := &genai.EmbedContentConfig{TaskType: p.taskType}
	if p.dimension > 0 {
		dim := int32(min(p.dimension, math.MaxInt32)) // #nosec G115 -- bounded by min
		config.OutputDimensionality = &dim
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	results := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			results = append(results, nil)
			continue
		}
		results = append(results, e.Values)
	}
	if err := embeddings.CheckBatch(results, len(texts)); err != nil {
		return nil, err
	}
	return results, nil
}
