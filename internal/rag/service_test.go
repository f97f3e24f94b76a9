package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/internal/rag/catalog"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"github.com/haasonsaas/groundwork/internal/rag/store"
	"github.com/haasonsaas/groundwork/internal/rag/store/sqlite"
)

// keywordEmbedder maps texts onto three axes by keyword so nearest
// neighbours are predictable.
type keywordEmbedder struct {
	batch int
	calls int
	err   error
}

var _ embeddings.Embedder = (*keywordEmbedder)(nil)

func (e *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	if strings.Contains(text, "lactate") {
		v[0] = 1
	}
	if strings.Contains(text, "fluid") {
		v[1] = 1
	}
	if strings.Contains(text, "antibiotic") {
		v[2] = 1
	}
	return v
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embeddings.First(ctx, e, text)
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *keywordEmbedder) Name() string      { return "keyword" }
func (e *keywordEmbedder) Dimension() int    { return 3 }
func (e *keywordEmbedder) MaxBatchSize() int { return e.batch }

var sepsisChunks = []catalog.Chunk{
	{ID: "c-lactate", Text: "Measure lactate level; remeasure if initial lactate > 2 mmol/L.", Source: "sepsis-bundle.pdf"},
	{ID: "c-fluids", Text: "Begin rapid fluid administration of 30 mL/kg crystalloid.", Source: "sepsis-bundle.pdf"},
	{ID: "c-abx", Text: "Administer broad-spectrum antibiotic therapy.", Source: "antimicrobial-guide.pdf"},
}

func newTestService(t *testing.T, embedder *keywordEmbedder, cfg Config) *Service {
	t.Helper()
	vectors, err := sqlite.New(sqlite.Config{Dimension: 3})
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	svc, err := NewService(embedder, vectors, nil, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_IngestAndQuery(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{batch: 2}
	svc := newTestService(t, embedder, Config{})

	n, err := svc.Ingest(ctx, sepsisChunks)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n != 3 || svc.Catalog().Len() != 3 {
		t.Fatalf("indexed %d, catalog %d", n, svc.Catalog().Len())
	}
	if embedder.calls != 2 {
		t.Errorf("EmbedBatch calls = %d, want 2 batches", embedder.calls)
	}

	records, err := svc.Query(ctx, "what lactate threshold?", 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	top := records[0]
	if top.Identifier != "c-lactate" || top.Source != "sepsis-bundle.pdf" || !strings.Contains(top.Text, "lactate") {
		t.Errorf("top record = %+v", top)
	}
	if records[0].RelevanceScore < records[1].RelevanceScore {
		t.Errorf("records not ordered by score: %+v", records)
	}
}

func TestService_QueryDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &keywordEmbedder{batch: 10}, Config{TopK: 1})
	if _, err := svc.Ingest(ctx, sepsisChunks); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	records, err := svc.Query(ctx, "fluid resuscitation", 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 || records[0].Identifier != "c-fluids" {
		t.Errorf("records = %+v", records)
	}
	if svc.TopK() != 1 {
		t.Errorf("TopK() = %d", svc.TopK())
	}
}

func TestService_QueryEmptyAndNoMatches(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &keywordEmbedder{batch: 10}, Config{})

	if _, err := svc.Query(ctx, "   ", 3); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query error = %v, want ErrEmptyQuery", err)
	}

	records, err := svc.Query(ctx, "lactate", 3)
	if err != nil {
		t.Fatalf("Query() on empty index error = %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("no matches should be an empty slice, got %#v", records)
	}
}

func TestService_SkipsMatchesMissingFromCatalog(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{batch: 10}
	vectors, err := sqlite.New(sqlite.Config{Dimension: 3})
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	if err := vectors.Upsert(ctx, []store.Vector{
		{ID: "orphan", Embedding: []float32{1, 0, 0}},
		{ID: "c-lactate", Embedding: []float32{0.9, 0.1, 0}},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	svc, err := NewService(embedder, vectors, catalog.New(sepsisChunks[0]), Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()
	svc.WithObservability(observability.NopLogger(), nil)

	records, err := svc.Query(ctx, "lactate", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 || records[0].Identifier != "c-lactate" {
		t.Errorf("records = %+v", records)
	}
}

func TestService_MinScore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &keywordEmbedder{batch: 10}, Config{MinScore: 0.9})
	if _, err := svc.Ingest(ctx, sepsisChunks); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	records, err := svc.Query(ctx, "antibiotic choice", 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 || records[0].Identifier != "c-abx" {
		t.Errorf("records = %+v", records)
	}
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewService(nil, nil, nil, Config{}); err == nil {
		t.Error("expected error without embedder")
	}

	embedErr := errors.New("quota exhausted")
	svc := newTestService(t, &keywordEmbedder{batch: 10, err: embedErr}, Config{})
	if _, err := svc.Query(ctx, "lactate", 3); !errors.Is(err, embedErr) {
		t.Errorf("Query() error = %v, want embedder error", err)
	}
	if n, err := svc.Ingest(ctx, sepsisChunks); !errors.Is(err, embedErr) || n != 0 {
		t.Errorf("Ingest() = %d, %v", n, err)
	}

	valid := newTestService(t, &keywordEmbedder{batch: 10}, Config{})
	if _, err := valid.Ingest(ctx, []catalog.Chunk{{ID: "x"}}); !errors.Is(err, catalog.ErrInvalidChunk) {
		t.Errorf("Ingest(invalid) error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := valid.Ingest(cancelled, sepsisChunks); !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest(cancelled) error = %v", err)
	}
}

func TestNewEmbedderAndStore(t *testing.T) {
	if _, err := NewEmbedder(embeddings.Config{Provider: "cohere", APIKey: "k"}); err == nil {
		t.Error("expected error for unknown embeddings provider")
	}
	e, err := NewEmbedder(embeddings.Config{Provider: "gemini", APIKey: "k"})
	if err != nil || e.Name() != "google" {
		t.Errorf("NewEmbedder(gemini) = %v, %v", e, err)
	}
	if _, err := NewVectorStore(StoreConfig{Backend: "faiss"}); err == nil {
		t.Error("expected error for unknown store backend")
	}
	s, err := NewVectorStore(StoreConfig{Dimension: 3})
	if err != nil {
		t.Fatalf("NewVectorStore(default) error = %v", err)
	}
	s.Close()
}

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cat, err := LoadCatalog(ctx, CatalogConfig{Path: filepath.Join(dir, "absent.json")})
	if err != nil || cat.Len() != 0 {
		t.Errorf("missing file = %v, %v", cat, err)
	}

	path := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(path, []byte(`{"c1":{"chunk_text":"x","source_document_name":"d"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cat, err = LoadCatalog(ctx, CatalogConfig{Path: path})
	if err != nil || cat.Len() != 1 {
		t.Errorf("LoadCatalog(file) = %v, %v", cat, err)
	}

	cat, err = LoadCatalog(ctx, CatalogConfig{})
	if err != nil || cat.Len() != 0 {
		t.Errorf("LoadCatalog(none) = %v, %v", cat, err)
	}
}
