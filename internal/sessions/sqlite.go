package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store on a local SQLite file for single-node use.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteConfig contains configuration for the SQLite store.
type SQLiteConfig struct {
	// Path to the database file. Empty means an in-memory database.
	Path string

	// BusyTimeout bounds waits on a locked database.
	BusyTimeout time.Duration
}

// NewSQLiteStore opens the database and applies migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if err := migrateUp(context.Background(), db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// DB exposes the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Append inserts one turn row.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn *models.Turn) (*models.Turn, error) {
	if err := validateAppend(sessionID, turn); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // ErrTxDone after commit

	var lastNanos sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&lastNanos); err != nil {
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	var last time.Time
	if lastNanos.Valid {
		last = time.Unix(0, lastNanos.Int64).UTC()
	}

	stored, err := prepareTurn(sessionID, turn, uuid.NewString, last, s.now())
	if err != nil {
		return nil, err
	}
	cols, err := encodeTurnColumns(stored)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, user_id, actor, text_content, tool_calls, tool_responses, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stored.ID,
		stored.SessionID,
		stored.UserID,
		string(stored.Actor),
		stored.Text,
		cols.toolCalls,
		cols.toolResponses,
		cols.metadata,
		stored.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return stored, nil
}

// QueryRecent returns the newest turns for a session.
func (s *SQLiteStore) QueryRecent(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if limit <= 0 {
		return []*models.Turn{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, actor, text_content, tool_calls, tool_responses, metadata, created_at
		FROM turns WHERE session_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*models.Turn, 0, limit)
	for rows.Next() {
		turn := &models.Turn{}
		var actor string
		var toolCalls, toolResponses, metadata sql.NullString
		var createdNanos int64

		if err := rows.Scan(
			&turn.ID,
			&turn.SessionID,
			&turn.UserID,
			&actor,
			&turn.Text,
			&toolCalls,
			&toolResponses,
			&metadata,
			&createdNanos,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Actor = models.Actor(actor)
		turn.CreatedAt = time.Unix(0, createdNanos).UTC()

		if err := decodeTurnColumns(turn,
			[]byte(toolCalls.String), []byte(toolResponses.String), []byte(metadata.String),
		); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
