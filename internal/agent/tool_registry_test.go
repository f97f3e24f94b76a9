package agent

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestToolRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewToolRegistry()
	tool := recordsTool("retrieve_knowledge_base")
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := registry.Lookup("retrieve_knowledge_base")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != tool {
		t.Error("Lookup returned a different tool")
	}
	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", registry.Len())
	}

	if _, err := registry.Lookup("nonexistent_tool"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Lookup(unknown) error = %v, want ErrToolNotFound", err)
	}
}

func TestToolRegistry_RegisterRejects(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(r *ToolRegistry)
		tool        Tool
		errContains string
	}{
		{
			name:        "nil tool",
			tool:        nil,
			errContains: "nil tool",
		},
		{
			name:        "empty name",
			tool:        &mockTool{name: ""},
			errContains: "name must match",
		},
		{
			name:        "name with spaces",
			tool:        &mockTool{name: "retrieve knowledge"},
			errContains: "name must match",
		},
		{
			name:        "name too long",
			tool:        &mockTool{name: strings.Repeat("a", MaxToolNameLength+1)},
			errContains: "name must match",
		},
		{
			name:        "schema does not compile",
			tool:        &mockTool{name: "bad_schema", schema: json.RawMessage(`{"type": 42}`)},
			errContains: "compile schema",
		},
		{
			name: "duplicate",
			setup: func(r *ToolRegistry) {
				r.MustRegister(recordsTool("retrieve_knowledge_base"))
			},
			tool:        recordsTool("retrieve_knowledge_base"),
			errContains: "already registered",
		},
		{
			name: "after seal",
			setup: func(r *ToolRegistry) {
				r.Seal()
			},
			tool:        recordsTool("late_tool"),
			errContains: "sealed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewToolRegistry()
			if tt.setup != nil {
				tt.setup(registry)
			}
			var err error
			if tt.tool == nil {
				err = registry.Register(nil)
			} else {
				err = registry.Register(tt.tool)
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error = %q, want substring %q", err, tt.errContains)
			}
		})
	}
}

func TestToolRegistry_SealedIsErrRegistrySealed(t *testing.T) {
	registry := NewToolRegistry()
	registry.Seal()
	if !registry.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	if err := registry.Register(recordsTool("x")); !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("error = %v, want ErrRegistrySealed", err)
	}
}

func TestToolRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewToolRegistry().MustRegister(&mockTool{name: "bad name"})
}

func TestToolRegistry_Validate(t *testing.T) {
	registry := NewToolRegistry().MustRegister(
		recordsTool("retrieve_knowledge_base"),
		&mockTool{name: "no_schema"},
	)

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr bool
	}{
		{name: "valid", tool: "retrieve_knowledge_base", args: `{"query":"sepsis"}`},
		{name: "missing required", tool: "retrieve_knowledge_base", args: `{}`, wantErr: true},
		{name: "wrong type", tool: "retrieve_knowledge_base", args: `{"query":5}`, wantErr: true},
		{name: "empty string", tool: "retrieve_knowledge_base", args: `{"query":""}`, wantErr: true},
		{name: "not JSON", tool: "retrieve_knowledge_base", args: `query=sepsis`, wantErr: true},
		{name: "empty args default to object", tool: "no_schema", args: ``},
		{name: "array rejected by default object schema", tool: "no_schema", args: `[]`, wantErr: true},
		{name: "unknown tool", tool: "nonexistent_tool", args: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Validate(tt.tool, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolRegistry_ValidateSizeLimit(t *testing.T) {
	registry := NewToolRegistry().MustRegister(recordsTool("retrieve_knowledge_base"))
	huge := `{"query":"` + strings.Repeat("x", MaxToolParamsSize) + `"}`
	if err := registry.Validate("retrieve_knowledge_base", json.RawMessage(huge)); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestToolRegistry_DefinitionsSortedCopy(t *testing.T) {
	registry := NewToolRegistry().MustRegister(
		recordsTool("zeta"),
		recordsTool("alpha"),
		recordsTool("mid"),
	)

	defs := registry.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "mid" || defs[2].Name != "zeta" {
		t.Errorf("definitions not sorted: %s,%s,%s", defs[0].Name, defs[1].Name, defs[2].Name)
	}
	if !json.Valid(defs[0].InputSchema) {
		t.Errorf("invalid input schema: %s", defs[0].InputSchema)
	}

	defs[0].Name = "mutated"
	if registry.Definitions()[0].Name != "alpha" {
		t.Error("Definitions returned shared state")
	}
}

func TestToolRegistry_SealedReadsTakeNoLock(t *testing.T) {
	registry := NewToolRegistry().MustRegister(recordsTool("retrieve_knowledge_base"))
	registry.Seal()

	// Hold the registration lock; sealed reads must still complete.
	registry.mu.Lock()
	defer registry.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if _, err := registry.Lookup("retrieve_knowledge_base"); err != nil {
			done <- err
			return
		}
		if err := registry.Validate("retrieve_knowledge_base", json.RawMessage(`{"query":"sepsis"}`)); err != nil {
			done <- err
			return
		}
		if n := len(registry.Definitions()); n != 1 || registry.Len() != 1 || !registry.Sealed() {
			done <- errors.New("sealed snapshot is incomplete")
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sealed read error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sealed reads blocked on the registration lock")
	}
}

func TestTruncateName(t *testing.T) {
	long := strings.Repeat("n", 100)
	if got := truncateName(long); len(got) != MaxToolNameLength+3 {
		t.Errorf("len(truncateName) = %d, want %d", len(got), MaxToolNameLength+3)
	}
	if got := truncateName("short"); got != "short" {
		t.Errorf("truncateName(short) = %q", got)
	}
}
