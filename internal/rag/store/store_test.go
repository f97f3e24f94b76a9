package store

import (
	"errors"
	"math"
	"testing"
)

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding []float32
		dimension int
		wantErr   bool
	}{
		{"valid", []float32{1, 2, 3}, 3, false},
		{"any length", []float32{1, 2}, 0, false},
		{"mismatch", []float32{1, 2}, 3, true},
		{"empty", nil, 3, true},
		{"nan", []float32{float32(math.NaN()), 1, 1}, 3, true},
		{"inf", []float32{float32(math.Inf(1)), 1, 1}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.embedding, tt.dimension)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmbedding() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateEmbedding([]float32{1}, 2); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{2, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortMatches(t *testing.T) {
	matches := []Match{{"b", 0.5}, {"c", 0.9}, {"a", 0.5}}
	SortMatches(matches)
	got := matches[0].ID + matches[1].ID + matches[2].ID
	if got != "cab" {
		t.Errorf("order = %s, want cab", got)
	}
}
