package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and local runs.
// Each instance is independent; nothing is shared between stores. Turns are
// never dropped: QueryRecent's limit is the only bound on what callers see.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]*models.Turn
	now   func() time.Time
	newID func() string
}

// NewMemoryStore creates a new in-memory turn store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: map[string][]*models.Turn{},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Append stores a copy of turn.
func (m *MemoryStore) Append(ctx context.Context, sessionID string, turn *models.Turn) (*models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.turns[sessionID]
	var last time.Time
	if n := len(existing); n > 0 {
		last = existing[n-1].CreatedAt
	}
	stored, err := prepareTurn(sessionID, turn, m.newID, last, m.now())
	if err != nil {
		return nil, err
	}

	m.turns[sessionID] = append(existing, stored)
	return stored.Clone(), nil
}

// QueryRecent returns copies of the newest turns.
func (m *MemoryStore) QueryRecent(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if limit <= 0 {
		return []*models.Turn{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[sessionID]
	if limit > len(turns) {
		limit = len(turns)
	}
	out := make([]*models.Turn, 0, limit)
	for i := len(turns) - 1; i >= len(turns)-limit; i-- {
		out = append(out, turns[i].Clone())
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
