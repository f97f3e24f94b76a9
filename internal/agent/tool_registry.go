package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 64

	// MaxToolParamsSize is the maximum size of tool arguments JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ToolRegistry is the fixed catalog of invocable tools.
//
// Tools are registered during initialization, then the registry is sealed.
// A sealed registry is read-only: names and schemas published to the
// Reasoner never change, since stored ToolCall records refer to tools by name.
// Reads on a sealed registry go through an immutable snapshot and take no lock.
type ToolRegistry struct {
	mu      sync.Mutex
	tools   map[string]*registeredTool
	ordered []ToolDefinition

	// sealed is set once by Seal and never modified afterwards.
	sealed atomic.Pointer[toolCatalog]
}

type toolCatalog struct {
	tools   map[string]*registeredTool
	ordered []ToolDefinition
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
	def    ToolDefinition
}

// NewToolRegistry creates an empty, unsealed registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool. It fails for invalid or duplicate names, schemas
// that do not compile, and any registration after Seal.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength || !toolNamePattern.MatchString(name) {
		return fmt.Errorf("register tool %q: name must match %s and be at most %d characters",
			name, toolNamePattern.String(), MaxToolNameLength)
	}

	raw := tool.Schema()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("register tool %q: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() != nil {
		return fmt.Errorf("register tool %q: %w", name, ErrRegistrySealed)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %q: already registered", name)
	}

	def := ToolDefinition{
		Name:        name,
		Description: tool.Description(),
		InputSchema: append(json.RawMessage(nil), raw...),
	}
	r.tools[name] = &registeredTool{tool: tool, schema: compiled, def: def}
	r.ordered = append(r.ordered, def)
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Name < r.ordered[j].Name })
	return nil
}

// MustRegister is Register for static initialization; it panics on error.
func (r *ToolRegistry) MustRegister(tools ...Tool) *ToolRegistry {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
	return r
}

// Seal publishes the catalog. Further registrations fail.
func (r *ToolRegistry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() != nil {
		return
	}
	snapshot := &toolCatalog{
		tools:   make(map[string]*registeredTool, len(r.tools)),
		ordered: append([]ToolDefinition(nil), r.ordered...),
	}
	for name, entry := range r.tools {
		snapshot.tools[name] = entry
	}
	r.sealed.Store(snapshot)
}

// Sealed reports whether Seal has been called.
func (r *ToolRegistry) Sealed() bool {
	return r.sealed.Load() != nil
}

// view returns the sealed snapshot, or a locked copy of the catalog while
// registration is still open.
func (r *ToolRegistry) view() *toolCatalog {
	if c := r.sealed.Load(); c != nil {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &toolCatalog{
		tools:   make(map[string]*registeredTool, len(r.tools)),
		ordered: append([]ToolDefinition(nil), r.ordered...),
	}
	for name, entry := range r.tools {
		c.tools[name] = entry
	}
	return c
}

func (r *ToolRegistry) entry(name string) (*registeredTool, bool) {
	if c := r.sealed.Load(); c != nil {
		e, ok := c.tools[name]
		return e, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	return e, ok
}

// Lookup returns the tool registered under name, or ErrToolNotFound.
func (r *ToolRegistry) Lookup(name string) (Tool, error) {
	entry, ok := r.entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, truncateName(name))
	}
	return entry.tool, nil
}

// Validate checks args against the named tool's input schema.
func (r *ToolRegistry) Validate(name string, args json.RawMessage) error {
	entry, ok := r.entry(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, truncateName(name))
	}
	if len(args) > MaxToolParamsSize {
		return fmt.Errorf("arguments exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

// Definitions returns the full catalog sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return append([]ToolDefinition(nil), r.view().ordered...)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	return len(r.view().tools)
}

// truncateName bounds untrusted names echoed into error messages.
func truncateName(name string) string {
	if len(name) > MaxToolNameLength {
		return name[:MaxToolNameLength] + "..."
	}
	return name
}
