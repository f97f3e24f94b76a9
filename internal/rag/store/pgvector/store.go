// Package pgvector provides a vector index on PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/groundwork/internal/rag/store"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store implements store.VectorStore using pgvector.
type Store struct {
	db        *sql.DB
	dimension int
	ownsDB    bool // whether this store owns the db connection
}

var _ store.VectorStore = (*Store)(nil)

// Config contains configuration for the pgvector store.
type Config struct {
	// DSN is the PostgreSQL connection string.
	// If empty, DB must be provided.
	DSN string

	// DB is an existing database connection to reuse.
	// If provided, DSN is ignored and the store will not close the connection.
	DB *sql.DB

	// Dimension is the embedding dimension (e.g., 1536 for text-embedding-3-small).
	Dimension int

	// RunMigrations creates the extension and table on startup.
	RunMigrations bool
}

// New creates a new pgvector store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}

	var db *sql.DB
	var ownsDB bool
	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ownsDB = true

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	default:
		return nil, fmt.Errorf("either DSN or DB must be provided")
	}

	s := &Store{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := s.migrate(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_vectors (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_rag_vectors_embedding ON rag_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Upsert stores vectors in one transaction.
func (s *Store) Upsert(ctx context.Context, vectors []store.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if v.ID == "" {
			return errors.New("vector id is required")
		}
		if err := store.ValidateEmbedding(v.Embedding, s.dimension); err != nil {
			return fmt.Errorf("vector %s: %w", v.ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_vectors (id, embedding, updated_at) VALUES ($1, $2::vector, now())
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx, v.ID, encodeEmbedding(v.Embedding)); err != nil {
			return fmt.Errorf("upsert vector %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// Search orders by cosine distance and reports similarity as 1 - distance.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]store.Match, error) {
	if err := store.ValidateEmbedding(embedding, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []store.Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		FROM rag_vectors
		ORDER BY embedding <=> $1::vector ASC
		LIMIT $2
	`, encodeEmbedding(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	matches := []store.Match{}
	for rows.Next() {
		var m store.Match
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	store.SortMatches(matches)
	return matches, nil
}

// Count returns the number of indexed vectors.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_vectors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return count, nil
}

// Close releases the connection if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

// encodeEmbedding renders the pgvector text form, e.g. [0.1,0.2].
func encodeEmbedding(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
