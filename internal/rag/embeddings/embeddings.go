// Package embeddings defines the text embedding interface used by retrieval.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyEmbedding indicates the backend returned no vector for an input.
var ErrEmptyEmbedding = errors.New("no embedding returned")

// Embedder turns text into dense vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the backend name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per EmbedBatch call.
	MaxBatchSize() int
}

// Config contains common configuration for embedding backends.
type Config struct {
	Provider  string `yaml:"provider"` // openai, google
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// First runs EmbedBatch-style backends for a single text.
func First(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}

// CheckBatch verifies a backend returned one non-empty vector per input.
func CheckBatch(vectors [][]float32, inputs int) error {
	if len(vectors) != inputs {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), inputs)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w for input %d", ErrEmptyEmbedding, i)
		}
	}
	return nil
}
