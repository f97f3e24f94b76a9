// Package tape records reasoning steps and tool runs so a conversation can be
// replayed later without calling a model backend or a knowledge base.
package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/groundwork/internal/agent"
)

// FormatVersion is written to every tape.
const FormatVersion = "1"

// Tape is a recorded sequence of reasoning steps and tool runs.
type Tape struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// Reasoner is the name of the recorded backend.
	Reasoner string `json:"reasoner,omitempty"`

	// Tools is the catalog offered on the first recorded step.
	Tools []agent.ToolDefinition `json:"tools,omitempty"`

	Steps    []Step            `json:"steps"`
	ToolRuns []ToolRun         `json:"tool_runs,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Step is one Reason call.
type Step struct {
	Index    int                   `json:"index"`
	Request  *agent.ReasonRequest  `json:"request"`
	Output   *agent.ReasonerOutput `json:"output,omitempty"`
	Error    string                `json:"error,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// ToolRun is one tool execution.
type ToolRun struct {
	Tool      string            `json:"tool"`
	Arguments json.RawMessage   `json:"arguments"`
	Result    *agent.ToolResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// New returns an empty tape.
func New() *Tape {
	return &Tape{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Steps:     []Step{},
		Metadata:  map[string]string{},
	}
}

// Summary is a brief overview of a tape.
type Summary struct {
	Reasoner  string `json:"reasoner,omitempty"`
	Steps     int    `json:"steps"`
	ToolCalls int    `json:"tool_calls"`
	ToolRuns  int    `json:"tool_runs"`
	Failures  int    `json:"failures"`
}

// Summary counts the recorded activity.
func (t *Tape) Summary() Summary {
	s := Summary{Reasoner: t.Reasoner, Steps: len(t.Steps), ToolRuns: len(t.ToolRuns)}
	for _, step := range t.Steps {
		if step.Error != "" {
			s.Failures++
		}
		if step.Output != nil {
			s.ToolCalls += len(step.Output.ToolCalls)
		}
	}
	return s
}

// Read loads a tape from a JSON file.
func Read(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tape: %w", err)
	}
	var t Tape
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tape %s: %w", path, err)
	}
	if t.Version != FormatVersion {
		return nil, fmt.Errorf("tape %s has version %q, want %q", path, t.Version, FormatVersion)
	}
	return &t, nil
}

// WriteFile stores the tape as indented JSON, replacing path atomically.
func (t *Tape) WriteFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tape: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tape-*")
	if err != nil {
		return fmt.Errorf("write tape: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write tape: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write tape: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
