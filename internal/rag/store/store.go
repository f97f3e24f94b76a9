// Package store provides vector index interfaces and implementations
// for knowledge retrieval.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Vector is an indexed embedding keyed by chunk ID.
type Vector struct {
	ID        string
	Embedding []float32
}

// Match is one nearest-neighbour result. Score is cosine similarity, higher is closer.
type Match struct {
	ID    string
	Score float64
}

// VectorStore defines the nearest-neighbour index used by retrieval.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert stores vectors, replacing any with the same ID.
	Upsert(ctx context.Context, vectors []Vector) error

	// Search returns at most topK matches ordered by descending score.
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)

	// Count returns the number of indexed vectors.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

// ValidateEmbedding checks length against dimension (0 accepts any length)
// and rejects NaN and infinite components.
func ValidateEmbedding(embedding []float32, dimension int) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	if dimension > 0 && len(embedding) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), dimension)
	}
	for _, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains invalid values")
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortMatches orders matches by descending score, breaking ties by ID.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}
