package sessions

import (
	"fmt"
	"strings"
)

// Backend names accepted by NewStore.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendCockroach = "cockroach"
	BackendPostgres  = "postgres"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Backend    string
	DSN        string
	SQLitePath string
}

// NewStore opens the configured backend. An empty backend means memory.
func NewStore(cfg StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(SQLiteConfig{Path: cfg.SQLitePath})
	case BackendCockroach, BackendPostgres:
		return NewCockroachStoreFromDSN(cfg.DSN, nil)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
