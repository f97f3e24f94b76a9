package pgvector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/groundwork/internal/rag/store"
)

func newMockStore(t *testing.T, dimension int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(Config{DB: db, Dimension: dimension})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, mock
}

func TestNew_RequiresConnection(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without DSN or DB")
	}
}

func TestNew_RunsMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("embedding vector(3) NOT NULL")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_rag_vectors_embedding").WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := New(Config{DB: db, Dimension: 3, RunMigrations: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on borrowed DB error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNew_MigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE EXTENSION").WillReturnError(errors.New("permission denied to create extension"))
	if _, err := New(Config{DB: db, Dimension: 3, RunMigrations: true}); err == nil {
		t.Fatal("expected migration error")
	}
}

func TestStore_Upsert(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO rag_vectors")
	prep.ExpectExec().WithArgs("c1", "[0.5,-1]").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("c2", "[0,1]").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []store.Vector{
		{ID: "c1", Embedding: []float32{0.5, -1}},
		{ID: "c2", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_UpsertRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO rag_vectors")
	prep.ExpectExec().WithArgs("c1", "[1,0]").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.Upsert(context.Background(), []store.Vector{{ID: "c1", Embedding: []float32{1, 0}}}); err == nil {
		t.Fatal("expected upsert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_UpsertValidatesBeforeWriting(t *testing.T) {
	s, mock := newMockStore(t, 3)
	err := s.Upsert(context.Background(), []store.Vector{{ID: "c1", Embedding: []float32{1, 0}}})
	if !errors.Is(err, store.ErrDimensionMismatch) {
		t.Fatalf("error = %v, want ErrDimensionMismatch", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no statements expected: %v", err)
	}
}

func TestStore_Search(t *testing.T) {
	s, mock := newMockStore(t, 2)

	rows := sqlmock.NewRows([]string{"id", "similarity"}).
		AddRow("c1", 0.93).
		AddRow("c2", 0.71)
	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1::vector)")).
		WithArgs("[1,0]", 2).
		WillReturnRows(rows)

	matches, err := s.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "c1" || matches[0].Score != 0.93 {
		t.Errorf("matches = %+v", matches)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_SearchEdgeCases(t *testing.T) {
	s, mock := newMockStore(t, 2)

	matches, err := s.Search(context.Background(), []float32{1, 0}, 0)
	if err != nil || len(matches) != 0 {
		t.Errorf("topK 0 = %v, %v", matches, err)
	}
	if _, err := s.Search(context.Background(), []float32{1}, 3); err == nil {
		t.Error("expected dimension error")
	}

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection reset"))
	if _, err := s.Search(context.Background(), []float32{1, 0}, 3); err == nil {
		t.Error("expected query error")
	}
}

func TestStore_Count(t *testing.T) {
	s, mock := newMockStore(t, 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rag_vectors")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.Count(context.Background())
	if err != nil || count != 42 {
		t.Errorf("Count() = %d, %v", count, err)
	}
}

func TestEncodeEmbedding(t *testing.T) {
	if got := encodeEmbedding([]float32{0.1, 2, -3.5}); got != "[0.1,2,-3.5]" {
		t.Errorf("encodeEmbedding() = %q", got)
	}
	if got := encodeEmbedding(nil); got != "[]" {
		t.Errorf("encodeEmbedding(nil) = %q", got)
	}
}
