package sessions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect selects the SQL flavour of migrations and placeholders.
type Dialect string

const (
	// DialectPostgres covers PostgreSQL and CockroachDB.
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Migration is one embedded schema change, ordered by ID.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of the migration ledger.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator moves the session schema forward and back. Every migration runs
// in its own transaction together with its ledger update.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
	now        func() time.Time
}

// NewMigrator loads the embedded migrations for dialect.
func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations, now: time.Now}, nil
}

// EnsureSchema creates the ledger table if needed. applied_at holds unix
// seconds so both dialects scan it the same way.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies up to steps pending migrations, all of them when steps <= 0,
// and returns the IDs it applied.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	record := "INSERT INTO schema_migrations (id, applied_at) VALUES (" +
		m.dialect.placeholder(1) + ", " + m.dialect.placeholder(2) + ")"
	var done []string
	for _, mig := range pending {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return done, fmt.Errorf("migration %s has no up script", mig.ID)
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("apply migration %s: %w", mig.ID, err)
			}
			if _, err := tx.ExecContext(ctx, record, mig.ID, m.now().Unix()); err != nil {
				return fmt.Errorf("record migration %s: %w", mig.ID, err)
			}
			return nil
		})
		if err != nil {
			return done, err
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Down reverts the newest steps applied migrations (at least one), newest
// first, and returns the IDs it reverted.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	steps = max(steps, 1)
	if steps > len(applied) {
		steps = len(applied)
	}

	forget := "DELETE FROM schema_migrations WHERE id = " + m.dialect.placeholder(1)
	var done []string
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		id := applied[i].ID
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == id })
		if idx < 0 {
			return done, fmt.Errorf("applied migration %s is not embedded in this build", id)
		}
		mig := m.migrations[idx]
		if strings.TrimSpace(mig.DownSQL) == "" {
			return done, fmt.Errorf("migration %s has no down script", id)
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("revert migration %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, forget, id); err != nil {
				return fmt.Errorf("forget migration %s: %w", id, err)
			}
			return nil
		})
		if err != nil {
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}

// Status reads the ledger and splits the embedded migrations into applied
// (oldest first) and pending.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.ledger(ctx)
	if err != nil {
		return nil, nil, err
	}
	pending := slices.DeleteFunc(slices.Clone(m.migrations), func(mig Migration) bool {
		return slices.ContainsFunc(applied, func(a AppliedMigration) bool { return a.ID == mig.ID })
	})
	return applied, pending, nil
}

func (m *Migrator) ledger(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			id string
			at int64
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied = append(applied, AppliedMigration{ID: id, AppliedAt: time.Unix(at, 0).UTC()})
	}
	return applied, rows.Err()
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// loadMigrations pairs <id>.up.sql and <id>.down.sql files from the dialect's
// directory.
func loadMigrations(dialect Dialect) ([]Migration, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	dir := path.Join("migrations", string(dialect))
	files, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byID := map[string]int{}
	var migrations []Migration
	for _, f := range files {
		name := f.Name()
		id, up := strings.CutSuffix(name, ".up.sql")
		if !up {
			var down bool
			if id, down = strings.CutSuffix(name, ".down.sql"); !down {
				continue
			}
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		idx, seen := byID[id]
		if !seen {
			idx = len(migrations)
			byID[id] = idx
			migrations = append(migrations, Migration{ID: id})
		}
		if up {
			migrations[idx].UpSQL = string(body)
		} else {
			migrations[idx].DownSQL = string(body)
		}
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.ID, b.ID) })
	return migrations, nil
}

// migrateUp brings db to the newest schema for dialect.
func migrateUp(ctx context.Context, db *sql.DB, dialect Dialect) error {
	m, err := NewMigrator(db, dialect)
	if err != nil {
		return err
	}
	if _, err := m.Up(ctx, 0); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
