package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/groundwork/pkg/models"
)

type storeFactory struct {
	name string
	open func(t *testing.T, now func() time.Time) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			open: func(t *testing.T, now func() time.Time) Store {
				store := NewMemoryStore()
				if now != nil {
					store.now = now
				}
				return store
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, now func() time.Time) Store {
				store, err := NewSQLiteStore(SQLiteConfig{})
				if err != nil {
					t.Fatalf("NewSQLiteStore() error = %v", err)
				}
				if now != nil {
					store.now = now
				}
				t.Cleanup(func() { store.Close() })
				return store
			},
		},
	}
}

func TestStore_AppendThenQuery(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.open(t, nil)

			user, err := store.Append(ctx, "s1", &models.Turn{UserID: "u1", Actor: models.ActorUser, Text: "Dosing?"})
			if err != nil {
				t.Fatalf("Append(user) error = %v", err)
			}
			if user.ID == "" || user.CreatedAt.IsZero() {
				t.Fatalf("expected ID and timestamp, got %+v", user)
			}

			agent, err := store.Append(ctx, "s1", &models.Turn{
				UserID:    "u1",
				Actor:     models.ActorAgent,
				Text:      "Use 5mg.",
				ToolCalls: []models.ToolCall{{ID: "call-1", Name: "retrieve_knowledge_base"}},
				ToolResponses: []models.ToolResponse{
					{CallID: "call-1", ToolName: "retrieve_knowledge_base", OK: true, Content: []byte(`[]`)},
				},
				Metadata: map[string]any{"iterations": 2},
			})
			if err != nil {
				t.Fatalf("Append(agent) error = %v", err)
			}

			turns, err := store.QueryRecent(ctx, "s1", 10)
			if err != nil {
				t.Fatalf("QueryRecent() error = %v", err)
			}
			if len(turns) != 2 {
				t.Fatalf("got %d turns, want 2", len(turns))
			}
			if turns[0].ID != agent.ID || turns[1].ID != user.ID {
				t.Fatalf("expected newest first, got %s then %s", turns[0].ID, turns[1].ID)
			}
			if turns[0].SessionID != "s1" || turns[0].UserID != "u1" {
				t.Errorf("identity not preserved: %+v", turns[0])
			}
			if len(turns[0].ToolCalls) != 1 || turns[0].ToolCalls[0].ID != "call-1" {
				t.Errorf("tool calls = %+v", turns[0].ToolCalls)
			}
			if len(turns[0].ToolResponses) != 1 || turns[0].ToolResponses[0].CallID != "call-1" {
				t.Errorf("tool responses = %+v", turns[0].ToolResponses)
			}
			if err := models.ValidateCorrelation(turns[0]); err != nil {
				t.Errorf("correlation lost in storage: %v", err)
			}
		})
	}
}

func TestStore_QueryRecentLimit(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.open(t, nil)

			for i := 0; i < 7; i++ {
				if _, err := store.Append(ctx, "s1", &models.Turn{Actor: models.ActorUser, Text: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			tests := []struct {
				limit int
				want  int
			}{
				{limit: 3, want: 3},
				{limit: 7, want: 7},
				{limit: 20, want: 7},
				{limit: 0, want: 0},
				{limit: -1, want: 0},
			}
			for _, tt := range tests {
				turns, err := store.QueryRecent(ctx, "s1", tt.limit)
				if err != nil {
					t.Fatalf("QueryRecent(%d) error = %v", tt.limit, err)
				}
				if len(turns) != tt.want {
					t.Errorf("QueryRecent(%d) returned %d turns, want %d", tt.limit, len(turns), tt.want)
				}
			}

			turns, _ := store.QueryRecent(ctx, "s1", 3)
			if turns[0].Text != "m6" || turns[2].Text != "m4" {
				t.Errorf("expected m6..m4, got %s..%s", turns[0].Text, turns[2].Text)
			}
		})
	}
}

func TestStore_InvalidInput(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.open(t, nil)

			if _, err := store.Append(ctx, "", &models.Turn{Actor: models.ActorUser, Text: "hi"}); !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Append with empty session: error = %v, want ErrInvalidSession", err)
			}
			if _, err := store.Append(ctx, "s1", nil); !errors.Is(err, ErrInvalidTurn) {
				t.Errorf("Append nil turn: error = %v, want ErrInvalidTurn", err)
			}
			if _, err := store.QueryRecent(ctx, "", 5); !errors.Is(err, ErrInvalidSession) {
				t.Errorf("QueryRecent with empty session: error = %v, want ErrInvalidSession", err)
			}

			turns, err := store.QueryRecent(ctx, "never-written", 5)
			if err != nil {
				t.Fatalf("QueryRecent(unknown) error = %v", err)
			}
			if len(turns) != 0 {
				t.Errorf("expected empty history, got %d turns", len(turns))
			}
		})
	}
}

func TestStore_TimestampsNonDecreasing(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
			var mu sync.Mutex
			now := func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				next := clock[0]
				if len(clock) > 1 {
					clock = clock[1:]
				}
				return next
			}
			store := factory.open(t, now)

			for i := 0; i < 3; i++ {
				if _, err := store.Append(ctx, "s1", &models.Turn{Actor: models.ActorUser, Text: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			turns, err := store.QueryRecent(ctx, "s1", 10)
			if err != nil {
				t.Fatalf("QueryRecent() error = %v", err)
			}
			for i := 0; i < len(turns)-1; i++ {
				if turns[i].CreatedAt.Before(turns[i+1].CreatedAt) {
					t.Fatalf("timestamp decreased: %v before %v", turns[i].CreatedAt, turns[i+1].CreatedAt)
				}
			}
			if turns[2].Text != "m0" || turns[1].Text != "m1" || turns[0].Text != "m2" {
				t.Errorf("append order lost: %s,%s,%s", turns[2].Text, turns[1].Text, turns[0].Text)
			}
		})
	}
}

func TestStore_SessionIsolation(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.open(t, nil)

			var wg sync.WaitGroup
			for s := 0; s < 4; s++ {
				wg.Add(1)
				go func(session string) {
					defer wg.Done()
					for i := 0; i < 5; i++ {
						if _, err := store.Append(ctx, session, &models.Turn{Actor: models.ActorUser, Text: session}); err != nil {
							t.Errorf("Append(%s) error = %v", session, err)
						}
					}
				}(fmt.Sprintf("s%d", s))
			}
			wg.Wait()

			for s := 0; s < 4; s++ {
				session := fmt.Sprintf("s%d", s)
				turns, err := store.QueryRecent(ctx, session, 100)
				if err != nil {
					t.Fatalf("QueryRecent(%s) error = %v", session, err)
				}
				if len(turns) != 5 {
					t.Fatalf("session %s has %d turns, want 5", session, len(turns))
				}
				for _, turn := range turns {
					if turn.SessionID != session || turn.Text != session {
						t.Errorf("session %s leaked turn %+v", session, turn)
					}
				}
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{name: "default memory", cfg: StoreConfig{}},
		{name: "memory", cfg: StoreConfig{Backend: "memory"}},
		{name: "sqlite in memory", cfg: StoreConfig{Backend: "sqlite"}},
		{name: "postgres without dsn", cfg: StoreConfig{Backend: "postgres"}, wantErr: true},
		{name: "unknown", cfg: StoreConfig{Backend: "dynamo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStore() error = %v", err)
			}
			defer store.Close()
		})
	}
}

func TestSQLiteStore_FailedAppendReleasesConnection(t *testing.T) {
	store, err := NewSQLiteStore(SQLiteConfig{})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	turn := &models.Turn{ID: "fixed-id", Actor: models.ActorUser, Text: "first"}
	if _, err := store.Append(ctx, "s1", turn); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := store.Append(ctx, "s1", turn); err == nil {
		t.Fatal("expected a duplicate ID to fail")
	}

	// The store holds a single connection, so a transaction left open by the
	// failed append would block this one until ctx expires.
	if _, err := store.Append(ctx, "s1", &models.Turn{Actor: models.ActorAgent, Text: "second"}); err != nil {
		t.Fatalf("Append() after failure error = %v", err)
	}
	turns, err := store.QueryRecent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("QueryRecent() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "second" || turns[1].Text != "first" {
		t.Fatalf("unexpected turns after failed append: %+v", turns)
	}
}
