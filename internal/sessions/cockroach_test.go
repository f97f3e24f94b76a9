package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/groundwork/pkg/models"
	"github.com/lib/pq"
)

// setupMockStore creates a store over a mock database with prepared statements.
func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *CockroachStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	mock.ExpectPrepare("SELECT max\\(created_at\\) FROM turns")
	mock.ExpectPrepare("INSERT INTO turns")
	mock.ExpectPrepare("SELECT .* FROM turns WHERE session_id")

	store, err := newCockroachStore(db)
	if err != nil {
		t.Fatalf("newCockroachStore() error = %v", err)
	}
	return db, mock, store
}

func TestCockroachStore_Append(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		sessionID   string
		turn        *models.Turn
		setupMock   func(sqlmock.Sqlmock)
		wantErr     error
		errContains string
		wantTime    time.Time
	}{
		{
			name:      "successful append",
			sessionID: "session-1",
			turn: &models.Turn{
				UserID: "user-1",
				Actor:  models.ActorUser,
				Text:   "What is the dosing guideline?",
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT max\\(created_at\\) FROM turns").
					WithArgs("session-1").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
				mock.ExpectExec("INSERT INTO turns").
					WithArgs(
						sqlmock.AnyArg(), // id
						"session-1",
						"user-1",
						"USER",
						"What is the dosing guideline?",
						nil, // tool_calls
						nil, // tool_responses
						nil, // metadata
						fixed,
					).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			wantTime: fixed,
		},
		{
			name:      "clock behind last turn keeps timestamps non-decreasing",
			sessionID: "session-1",
			turn: &models.Turn{
				UserID: "user-1",
				Actor:  models.ActorAgent,
				Text:   "answer",
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "retrieve_knowledge_base"},
				},
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT max\\(created_at\\) FROM turns").
					WithArgs("session-1").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(fixed.Add(time.Minute)))
				mock.ExpectExec("INSERT INTO turns").
					WithArgs(
						sqlmock.AnyArg(),
						"session-1",
						"user-1",
						"AGENT",
						"answer",
						sqlmock.AnyArg(),
						nil,
						nil,
						fixed.Add(time.Minute),
					).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			wantTime: fixed.Add(time.Minute),
		},
		{
			name:      "empty session ID",
			sessionID: "",
			turn:      &models.Turn{Actor: models.ActorUser, Text: "hi"},
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   ErrInvalidSession,
		},
		{
			name:      "unknown actor",
			sessionID: "session-1",
			turn:      &models.Turn{Actor: "SYSTEM", Text: "hi"},
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   ErrInvalidTurn,
		},
		{
			name:      "insert failure rolls back",
			sessionID: "session-1",
			turn:      &models.Turn{Actor: models.ActorUser, Text: "hi"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT max\\(created_at\\) FROM turns").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
				mock.ExpectExec("INSERT INTO turns").
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			errContains: "failed to append turn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := setupMockStore(t)
			defer db.Close()
			store.now = func() time.Time { return fixed }

			tt.setupMock(mock)

			stored, err := store.Append(context.Background(), tt.sessionID, tt.turn)
			if tt.wantErr != nil || tt.errContains != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if stored.ID == "" {
					t.Error("expected generated ID")
				}
				if !stored.CreatedAt.Equal(tt.wantTime) {
					t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, tt.wantTime)
				}
				if tt.turn.ID != "" {
					t.Error("input turn was modified")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCockroachStore_AppendRetriesSerializationFailure(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conflict := &pq.Error{Code: "40001", Message: "could not serialize access"}

	expectAttempt := func(mock sqlmock.Sqlmock, insertErr error) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT max\\(created_at\\) FROM turns").
			WithArgs("session-1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
		insert := mock.ExpectExec("INSERT INTO turns")
		if insertErr != nil {
			insert.WillReturnError(insertErr)
			mock.ExpectRollback()
			return
		}
		insert.WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	tests := []struct {
		name      string
		attempts  []error
		wantError bool
	}{
		{name: "conflict then success", attempts: []error{conflict, nil}},
		{name: "conflicts exhaust attempts", attempts: []error{conflict, conflict, conflict}, wantError: true},
		{name: "other errors are not retried", attempts: []error{errors.New("disk full")}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := setupMockStore(t)
			defer db.Close()
			store.now = func() time.Time { return fixed }
			for _, err := range tt.attempts {
				expectAttempt(mock, err)
			}

			stored, err := store.Append(context.Background(), "session-1", &models.Turn{Actor: models.ActorUser, Text: "hi"})
			if tt.wantError {
				if err == nil {
					t.Fatal("expected an error")
				}
			} else if err != nil || stored == nil || !stored.CreatedAt.Equal(fixed) {
				t.Fatalf("Append() = %+v, %v", stored, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}

	if appendTxOptions.Isolation != sql.LevelSerializable {
		t.Errorf("append isolation = %v, want serializable", appendTxOptions.Isolation)
	}
}

func TestCockroachStore_QueryRecent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "session_id", "user_id", "actor", "text_content", "tool_calls", "tool_responses", "metadata", "created_at"}

	tests := []struct {
		name        string
		limit       int
		setupMock   func(sqlmock.Sqlmock)
		wantCount   int
		wantErr     bool
		errContains string
		check       func(t *testing.T, turns []*models.Turn)
	}{
		{
			name:  "decodes rows newest first",
			limit: 10,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(columns).
					AddRow("turn-2", "session-1", "user-1", "AGENT", "Use 5mg.",
						[]byte(`[{"id":"call-1","name":"retrieve_knowledge_base","arguments":{"query":"dosing"}}]`),
						[]byte(`[{"call_id":"call-1","tool_name":"retrieve_knowledge_base","ok":true,"content":[]}]`),
						[]byte(`{"iterations":2}`),
						now.Add(time.Second)).
					AddRow("turn-1", "session-1", "user-1", "USER", "Dosing?", nil, nil, nil, now)
				mock.ExpectQuery("SELECT .* FROM turns WHERE session_id").
					WithArgs("session-1", 10).
					WillReturnRows(rows)
			},
			wantCount: 2,
			check: func(t *testing.T, turns []*models.Turn) {
				if turns[0].ID != "turn-2" || turns[1].ID != "turn-1" {
					t.Fatalf("order = %s,%s, want turn-2,turn-1", turns[0].ID, turns[1].ID)
				}
				if len(turns[0].ToolCalls) != 1 || turns[0].ToolCalls[0].ID != "call-1" {
					t.Errorf("tool calls = %+v", turns[0].ToolCalls)
				}
				if len(turns[0].ToolResponses) != 1 || !turns[0].ToolResponses[0].OK {
					t.Errorf("tool responses = %+v", turns[0].ToolResponses)
				}
				if turns[1].Actor != models.ActorUser {
					t.Errorf("actor = %s, want USER", turns[1].Actor)
				}
			},
		},
		{
			name:      "zero limit returns empty without querying",
			limit:     0,
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantCount: 0,
		},
		{
			name:  "query error",
			limit: 5,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM turns WHERE session_id").
					WillReturnError(errors.New("database unavailable"))
			},
			wantErr:     true,
			errContains: "failed to query turns",
		},
		{
			name:  "corrupt JSON column",
			limit: 5,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(columns).
					AddRow("turn-1", "session-1", "user-1", "AGENT", "", []byte(`{not json`), nil, nil, now)
				mock.ExpectQuery("SELECT .* FROM turns WHERE session_id").WillReturnRows(rows)
			},
			wantErr:     true,
			errContains: "failed to unmarshal tool calls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := setupMockStore(t)
			defer db.Close()

			tt.setupMock(mock)

			turns, err := store.QueryRecent(context.Background(), "session-1", tt.limit)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(turns) != tt.wantCount {
				t.Fatalf("got %d turns, want %d", len(turns), tt.wantCount)
			}
			if tt.check != nil {
				tt.check(t, turns)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCockroachStore_QueryRecentEmptySession(t *testing.T) {
	db, _, store := setupMockStore(t)
	defer db.Close()

	if _, err := store.QueryRecent(context.Background(), "", 5); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("error = %v, want ErrInvalidSession", err)
	}
}

func TestNewCockroachStoreFromDSN_Empty(t *testing.T) {
	if _, err := NewCockroachStoreFromDSN("", nil); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
