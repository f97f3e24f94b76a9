package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/groundwork/internal/rag/catalog"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings/google"
	"github.com/haasonsaas/groundwork/internal/rag/embeddings/openai"
	"github.com/haasonsaas/groundwork/internal/rag/store"
	"github.com/haasonsaas/groundwork/internal/rag/store/pgvector"
	"github.com/haasonsaas/groundwork/internal/rag/store/sqlite"
)

// StoreConfig selects the vector index backend.
type StoreConfig struct {
	Backend    string // sqlite (default) or pgvector
	DSN        string
	SQLitePath string
	Dimension  int
}

// CatalogConfig locates the chunk catalog. Path takes precedence over S3.
type CatalogConfig struct {
	Path string
	S3   catalog.S3Location
}

// Options assembles a Service.
type Options struct {
	Embeddings embeddings.Config
	Store      StoreConfig
	Catalog    CatalogConfig
	Service    Config
}

// Open builds the embedder, vector store and catalog described by opts.
func Open(ctx context.Context, opts Options) (*Service, error) {
	embedder, err := NewEmbedder(opts.Embeddings)
	if err != nil {
		return nil, err
	}

	storeCfg := opts.Store
	if storeCfg.Dimension <= 0 {
		storeCfg.Dimension = embedder.Dimension()
	}
	vectors, err := NewVectorStore(storeCfg)
	if err != nil {
		return nil, err
	}

	cat, err := LoadCatalog(ctx, opts.Catalog)
	if err != nil {
		vectors.Close()
		return nil, err
	}

	svc, err := NewService(embedder, vectors, cat, opts.Service)
	if err != nil {
		vectors.Close()
		return nil, err
	}
	return svc, nil
}

// NewEmbedder returns the configured embedding backend.
func NewEmbedder(cfg embeddings.Config) (embeddings.Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return openai.New(openai.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case "google", "gemini":
		return google.New(google.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// NewVectorStore opens the configured vector index.
func NewVectorStore(cfg StoreConfig) (store.VectorStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.SQLitePath, Dimension: cfg.Dimension})
	case "pgvector", "postgres":
		return pgvector.New(pgvector.Config{DSN: cfg.DSN, Dimension: cfg.Dimension, RunMigrations: true})
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}

// LoadCatalog reads the catalog from a file or S3. A configured file that
// does not exist yet yields an empty catalog so ingestion can create it.
func LoadCatalog(ctx context.Context, cfg CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Path != "" {
		cat, err := catalog.LoadFile(cfg.Path)
		if errors.Is(err, os.ErrNotExist) {
			return catalog.New(), nil
		}
		return cat, err
	}
	if cfg.S3.Bucket != "" {
		client, err := catalog.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return catalog.LoadS3(ctx, client, cfg.S3)
	}
	return catalog.New(), nil
}
