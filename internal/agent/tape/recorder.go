package tape

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/haasonsaas/groundwork/internal/agent"
)

// Recorder wraps a Reasoner and, optionally, tools and appends every call to
// a tape. It is safe for concurrent use.
type Recorder struct {
	reasoner agent.Reasoner

	mu   sync.Mutex
	tape *Tape
}

// NewRecorder starts a new tape for reasoner.
func NewRecorder(reasoner agent.Reasoner) *Recorder {
	t := New()
	t.Reasoner = reasoner.Name()
	return &Recorder{reasoner: reasoner, tape: t}
}

// Name implements agent.Reasoner.
func (r *Recorder) Name() string {
	return r.reasoner.Name()
}

// Reason implements agent.Reasoner.
func (r *Recorder) Reason(ctx context.Context, req *agent.ReasonRequest) (*agent.ReasonerOutput, error) {
	start := time.Now()
	out, err := r.reasoner.Reason(ctx, req)

	step := Step{Request: cloneRequest(req), Output: out, Duration: time.Since(start)}
	if err != nil {
		step.Output = nil
		step.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tape.Steps) == 0 && req != nil {
		r.tape.Tools = append([]agent.ToolDefinition(nil), req.Tools...)
	}
	step.Index = len(r.tape.Steps)
	r.tape.Steps = append(r.tape.Steps, step)
	return out, err
}

// WrapTool returns a tool that records each execution of tool.
func (r *Recorder) WrapTool(tool agent.Tool) agent.Tool {
	return &recordedTool{Tool: tool, recorder: r}
}

// Tape returns a snapshot of everything recorded so far.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := *r.tape
	snapshot.Steps = append([]Step(nil), r.tape.Steps...)
	snapshot.ToolRuns = append([]ToolRun(nil), r.tape.ToolRuns...)
	snapshot.Metadata = make(map[string]string, len(r.tape.Metadata))
	for k, v := range r.tape.Metadata {
		snapshot.Metadata[k] = v
	}
	return &snapshot
}

// SetMetadata attaches a key/value pair to the tape.
func (r *Recorder) SetMetadata(key, value string) {
	r.mu.Lock()
	r.tape.Metadata[key] = value
	r.mu.Unlock()
}

func (r *Recorder) addToolRun(run ToolRun) {
	r.mu.Lock()
	r.tape.ToolRuns = append(r.tape.ToolRuns, run)
	r.mu.Unlock()
}

type recordedTool struct {
	agent.Tool
	recorder *Recorder
}

func (t *recordedTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	start := time.Now()
	result, err := t.Tool.Execute(ctx, params)
	run := ToolRun{
		Tool:      t.Name(),
		Arguments: append(json.RawMessage(nil), params...),
		Result:    result,
		Duration:  time.Since(start),
	}
	if err != nil {
		run.Error = err.Error()
	}
	t.recorder.addToolRun(run)
	return result, err
}

// cloneRequest copies the slices the orchestrator keeps appending to.
func cloneRequest(req *agent.ReasonRequest) *agent.ReasonRequest {
	if req == nil {
		return nil
	}
	c := *req
	c.Messages = append(c.Messages[:0:0], req.Messages...)
	c.Tools = append(c.Tools[:0:0], req.Tools...)
	return &c
}
