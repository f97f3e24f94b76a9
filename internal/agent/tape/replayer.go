package tape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/pkg/models"
)

var (
	// ErrTapeExhausted is returned once every recorded step has been replayed.
	ErrTapeExhausted = errors.New("tape exhausted")

	// ErrToolNotInTape is returned when a replayed tool call has no recording.
	ErrToolNotInTape = errors.New("tool call not found in tape")
)

// ReplayMode controls how strictly requests are compared to the recording.
type ReplayMode int

const (
	// ReplayLoose returns recorded outputs whatever the request.
	ReplayLoose ReplayMode = iota

	// ReplayStrict also records a Mismatch for every request that differs
	// from the recorded one.
	ReplayStrict
)

// Mismatch is a difference between a live request and its recording.
type Mismatch struct {
	Step     int    `json:"step"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Replayer serves a tape as an agent.Reasoner and replays recorded tool runs.
type Replayer struct {
	tape *Tape
	mode ReplayMode

	mu         sync.Mutex
	next       int
	usedRuns   map[int]bool
	mismatches []Mismatch
}

// NewReplayer replays t in ReplayLoose mode.
func NewReplayer(t *Tape) *Replayer {
	return &Replayer{tape: t, usedRuns: make(map[int]bool)}
}

// WithMode sets the replay mode.
func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

// Name implements agent.Reasoner.
func (r *Replayer) Name() string {
	if r.tape.Reasoner == "" {
		return "replay"
	}
	return "replay:" + r.tape.Reasoner
}

// Reason implements agent.Reasoner.
func (r *Replayer) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.tape.Steps) {
		return nil, ErrTapeExhausted
	}
	step := r.tape.Steps[r.next]
	r.next++

	if r.mode == ReplayStrict {
		r.compare(step, req)
	}
	if step.Error != "" {
		return nil, &agent.ReasonerError{Provider: r.Name(), Attempts: 1, Cause: errors.New(step.Error)}
	}
	if step.Output == nil {
		return &agent.ReasonerOutput{}, nil
	}
	out := *step.Output
	out.ToolCalls = append(out.ToolCalls[:0:0], step.Output.ToolCalls...)
	return &out, nil
}

func (r *Replayer) compare(step Step, req *agent.ReasonRequest) {
	want := step.Request
	if want == nil || req == nil {
		return
	}
	add := func(field, expected, actual string) {
		r.mismatches = append(r.mismatches, Mismatch{Step: step.Index, Field: field, Expected: expected, Actual: actual})
	}
	if want.Model != req.Model {
		add("model", want.Model, req.Model)
	}
	if want.System != req.System {
		add("system", want.System, req.System)
	}
	if len(want.Messages) != len(req.Messages) {
		add("message_count", strconv.Itoa(len(want.Messages)), strconv.Itoa(len(req.Messages)))
	} else if n := len(req.Messages); n > 0 && want.Messages[n-1].Content != req.Messages[n-1].Content {
		add("last_message", want.Messages[n-1].Content, req.Messages[n-1].Content)
	}
	if len(want.Tools) != len(req.Tools) {
		add("tool_count", strconv.Itoa(len(want.Tools)), strconv.Itoa(len(req.Tools)))
	}
}

// Mismatches returns the differences found in ReplayStrict mode.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch(nil), r.mismatches...)
}

// Remaining reports how many recorded steps have not been replayed.
func (r *Replayer) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tape.Steps) - r.next
}

// Tools returns a replaying stand-in for every tool in the recorded catalog.
func (r *Replayer) Tools() []agent.Tool {
	tools := make([]agent.Tool, 0, len(r.tape.Tools))
	for _, def := range r.tape.Tools {
		tools = append(tools, &replayTool{def: def, replayer: r})
	}
	return tools
}

// takeRun finds the first unused recording of tool with matching arguments.
func (r *Replayer) takeRun(tool string, params json.RawMessage) (ToolRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := compact(params)
	for i, run := range r.tape.ToolRuns {
		if r.usedRuns[i] || run.Tool != tool || !bytes.Equal(compact(run.Arguments), want) {
			continue
		}
		r.usedRuns[i] = true
		return run, true
	}
	return ToolRun{}, false
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

type replayTool struct {
	def      agent.ToolDefinition
	replayer *Replayer
}

func (t *replayTool) Name() string            { return t.def.Name }
func (t *replayTool) Description() string     { return t.def.Description }
func (t *replayTool) Schema() json.RawMessage { return t.def.InputSchema }

func (t *replayTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	run, ok := t.replayer.takeRun(t.def.Name, params)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrToolNotInTape, t.def.Name, compact(params))
	}
	if run.Error != "" {
		return nil, errors.New(run.Error)
	}
	result := run.Result
	if result == nil {
		result = &agent.ToolResult{}
	}
	// An empty match list does not survive JSON omitempty.
	if result.Records == nil && result.Content == "" && !result.IsError {
		result.Records = []models.FactRecord{}
	}
	return result, nil
}
