package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/pkg/models"
	"github.com/lib/pq"
)

const (
	sqlLastTimestamp = `SELECT max(created_at) FROM turns WHERE session_id = $1`

	sqlAppendTurn = `INSERT INTO turns
	(id, session_id, user_id, actor, text_content, tool_calls, tool_responses, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	sqlQueryRecent = `SELECT id, session_id, user_id, actor, text_content, tool_calls, tool_responses, metadata, created_at
FROM turns WHERE session_id = $1
ORDER BY created_at DESC, seq DESC
LIMIT $2`
)

// appendTxOptions makes the timestamp read and the insert serializable, so
// concurrent appends to one session cannot commit with seq and created_at
// disagreeing. CockroachDB runs this level by default; PostgreSQL does not.
var appendTxOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}

// maxAppendAttempts bounds retries of appends aborted by a serialization
// conflict.
const maxAppendAttempts = 3

// CockroachStore keeps turns in CockroachDB or PostgreSQL.
type CockroachStore struct {
	db  *sql.DB
	now func() time.Time

	lastTimestamp *sql.Stmt
	appendTurn    *sql.Stmt
	queryRecent   *sql.Stmt
}

// CockroachOptions tunes the connection pool. Zero values take defaults.
type CockroachOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	// SkipMigrate leaves the schema alone on open.
	SkipMigrate bool
}

func (o CockroachOptions) withDefaults() CockroachOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	return o
}

// NewCockroachStoreFromDSN connects with a postgres URL or key=value DSN,
// migrates the schema and prepares the store's statements.
func NewCockroachStoreFromDSN(dsn string, opts *CockroachOptions) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	var o CockroachOptions
	if opts != nil {
		o = *opts
	}
	o = o.withDefaults()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	store, err := func() (*CockroachStore, error) {
		ctx, cancel := context.WithTimeout(context.Background(), o.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if !o.SkipMigrate {
			if err := migrateUp(ctx, db, DialectPostgres); err != nil {
				return nil, err
			}
		}
		return newCockroachStore(db)
	}()
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newCockroachStore(db *sql.DB) (*CockroachStore, error) {
	s := &CockroachStore{db: db, now: time.Now}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.lastTimestamp, sqlLastTimestamp},
		{&s.appendTurn, sqlAppendTurn},
		{&s.queryRecent, sqlQueryRecent},
	} {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			s.closeStatements()
			return nil, fmt.Errorf("failed to prepare statements: %w", err)
		}
		*p.dst = stmt
	}
	return s, nil
}

// DB exposes the underlying connection pool.
func (s *CockroachStore) DB() *sql.DB {
	return s.db
}

func (s *CockroachStore) closeStatements() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.lastTimestamp, s.appendTurn, s.queryRecent} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

// Close releases the prepared statements and the pool.
func (s *CockroachStore) Close() error {
	if err := errors.Join(s.closeStatements(), s.db.Close()); err != nil {
		return fmt.Errorf("errors closing store: %w", err)
	}
	return nil
}

// Append inserts one turn row. The timestamp read and the insert share a
// serializable transaction so timestamps never decrease within a session;
// a transaction aborted by a concurrent append is retried.
func (s *CockroachStore) Append(ctx context.Context, sessionID string, turn *models.Turn) (*models.Turn, error) {
	if err := validateAppend(sessionID, turn); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		stored, err := s.appendOnce(ctx, sessionID, turn)
		if err == nil || attempt == maxAppendAttempts || !isSerializationFailure(err) {
			return stored, err
		}
	}
}

func (s *CockroachStore) appendOnce(ctx context.Context, sessionID string, turn *models.Turn) (*models.Turn, error) {
	tx, err := s.db.BeginTx(ctx, appendTxOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // ErrTxDone after commit

	var last sql.NullTime
	if err := tx.StmtContext(ctx, s.lastTimestamp).QueryRowContext(ctx, sessionID).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	stored, err := prepareTurn(sessionID, turn, uuid.NewString, last.Time, s.now())
	if err != nil {
		return nil, err
	}
	cols, err := encodeTurnColumns(stored)
	if err != nil {
		return nil, err
	}

	if _, err := tx.StmtContext(ctx, s.appendTurn).ExecContext(ctx,
		stored.ID, stored.SessionID, stored.UserID, string(stored.Actor), stored.Text,
		cols.toolCalls, cols.toolResponses, cols.metadata, stored.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return stored, nil
}

// isSerializationFailure reports SQLSTATE 40001, which both PostgreSQL and
// CockroachDB return for a transaction that must be retried.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

// QueryRecent returns up to limit turns for a session, newest first.
func (s *CockroachStore) QueryRecent(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if limit <= 0 {
		return []*models.Turn{}, nil
	}

	rows, err := s.queryRecent.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*models.Turn, 0, limit)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

func scanTurn(rows *sql.Rows) (*models.Turn, error) {
	var (
		turn                       models.Turn
		actor                      string
		calls, responses, metadata []byte
	)
	if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.UserID, &actor, &turn.Text,
		&calls, &responses, &metadata, &turn.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan turn: %w", err)
	}
	turn.Actor = models.Actor(actor)
	turn.CreatedAt = turn.CreatedAt.UTC()
	if err := decodeTurnColumns(&turn, calls, responses, metadata); err != nil {
		return nil, err
	}
	return &turn, nil
}
