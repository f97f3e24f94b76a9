// Package rag answers knowledge-base queries: embed the query, find the
// nearest chunk vectors, and join them with the chunk catalog into fact records.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/internal/rag/catalog"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"github.com/haasonsaas/groundwork/internal/rag/store"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// DefaultTopK is the number of neighbours retrieved when none is requested.
const DefaultTopK = 5

// ErrEmptyQuery indicates a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Service runs retrieval queries and ingests chunks.
//
// Thread Safety:
// Service is safe for concurrent use when its embedder and vector store are.
type Service struct {
	embedder embeddings.Embedder
	vectors  store.VectorStore
	catalog  *catalog.Catalog
	topK     int
	minScore float64

	logger  *observability.Logger
	metrics *observability.Metrics
}

// Config tunes retrieval.
type Config struct {
	// TopK is used when Query is called with topK <= 0. Default: 5.
	TopK int

	// MinScore drops matches scoring below it. 0 keeps all.
	MinScore float64
}

// NewService wires an embedder, a vector index and a catalog.
func NewService(embedder embeddings.Embedder, vectors store.VectorStore, cat *catalog.Catalog, cfg Config) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder is required")
	}
	if vectors == nil {
		return nil, errors.New("rag: vector store is required")
	}
	if cat == nil {
		cat = catalog.New()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		catalog:  cat,
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
		logger:   observability.NopLogger(),
	}, nil
}

// WithObservability attaches a logger and metrics. Either may be nil.
func (s *Service) WithObservability(logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger != nil {
		s.logger = logger
	}
	s.metrics = metrics
	return s
}

// Catalog returns the chunk catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// TopK returns the default neighbour count.
func (s *Service) TopK() int {
	return s.topK
}

// Query returns up to topK fact records for query, most relevant first.
// No matches is an empty, non-nil slice.
func (s *Service) Query(ctx context.Context, query string, topK int) (records []models.FactRecord, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.topK
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordStoreOperation("rag_query", err, time.Since(start))
		}
	}()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.vectors.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	chunks := s.catalog.Get(ids)

	records = make([]models.FactRecord, 0, len(matches))
	for _, m := range matches {
		if m.Score < s.minScore {
			continue
		}
		chunk, ok := chunks[m.ID]
		if !ok {
			s.logger.Warn(ctx, "vector match missing from catalog", "chunk_id", m.ID)
			continue
		}
		records = append(records, models.FactRecord{
			Identifier:     chunk.ID,
			Text:           chunk.Text,
			Source:         chunk.Source,
			RelevanceScore: m.Score,
		})
	}
	return records, nil
}

// Ingest embeds chunks in batches, upserts their vectors and adds them to
// the catalog. It returns the number of chunks indexed.
func (s *Service) Ingest(ctx context.Context, chunks []catalog.Chunk) (int, error) {
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return 0, err
		}
	}

	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 1
	}

	indexed := 0
	for startIdx := 0; startIdx < len(chunks); startIdx += batchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		batch := chunks[startIdx:min(startIdx+batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at %d: %w", startIdx, err)
		}
		if err := embeddings.CheckBatch(vectors, len(batch)); err != nil {
			return indexed, fmt.Errorf("embed batch at %d: %w", startIdx, err)
		}

		items := make([]store.Vector, len(batch))
		for i, chunk := range batch {
			items[i] = store.Vector{ID: chunk.ID, Embedding: vectors[i]}
		}
		if err := s.vectors.Upsert(ctx, items); err != nil {
			return indexed, fmt.Errorf("upsert batch at %d: %w", startIdx, err)
		}
		s.catalog.Put(batch...)
		indexed += len(batch)

		s.logger.Debug(ctx, "indexed chunk batch", "offset", startIdx, "count", len(batch))
	}
	return indexed, nil
}

// Close releases the vector store.
func (s *Service) Close() error {
	return s.vectors.Close()
}
