// Package sqlite provides a vector index on a local SQLite file.
//
// Embeddings are stored as little-endian float32 BLOBs and scored with
// cosine similarity in process, which suits catalogs of up to a few
// hundred thousand chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/haasonsaas/groundwork/internal/rag/store"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store implements store.VectorStore on SQLite.
type Store struct {
	db        *sql.DB
	dimension int
	ownsDB    bool
}

var _ store.VectorStore = (*Store)(nil)

// Config contains configuration for the SQLite vector store.
type Config struct {
	Path      string  // Path to SQLite database file; empty means in-memory
	DB        *sql.DB // Existing connection to reuse; Path is then ignored
	Dimension int     // Embedding dimension; 0 accepts any
}

// New opens the database and creates the vector table.
func New(cfg Config) (*Store, error) {
	db := cfg.DB
	ownsDB := false
	if db == nil {
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		var err error
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		ownsDB = true
	}

	s := &Store{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}
	if err := s.init(context.Background()); err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rag_vectors (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create rag_vectors table: %w", err)
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
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_vectors (id, embedding, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx, v.ID, encodeEmbedding(v.Embedding), now); err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// Search scans all vectors and returns the topK most similar.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]store.Match, error) {
	if err := store.ValidateEmbedding(embedding, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []store.Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM rag_vectors`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	matches := []store.Match{}
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		candidate := decodeEmbedding(blob)
		if len(candidate) != len(embedding) {
			continue
		}
		matches = append(matches, store.Match{ID: id, Score: store.CosineSimilarity(embedding, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vectors: %w", err)
	}

	store.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_vectors`).Scan(&count)
	return count, err
}

// Close releases the connection if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func encodeEmbedding(embedding []float32) []byte {
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}
