package providers

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// Providers perform exactly one backend call per Reason. Retries, backoff
// and per-attempt timeouts belong to agent.RetryingReasoner.

// baseProvider holds fields shared by every backend.
type baseProvider struct {
	name         string
	defaultModel string
}

func (b baseProvider) Name() string {
	return b.name
}

// model resolves the request model against the provider default.
func (b baseProvider) model(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return b.defaultModel
}

// argsMap decodes tool call arguments into an object. Empty or invalid
// arguments yield an empty object.
func argsMap(raw json.RawMessage) map[string]any {
	var args map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &args) != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// rawArgs encodes decoded arguments back to JSON.
func rawArgs(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// normalizeArgs returns s as JSON arguments, defaulting to an empty object.
func normalizeArgs(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(s)
}

// groupToolResults collects consecutive tool messages starting at i.
// Backends that carry tool results in a single user message need them
// grouped.
func groupToolResults(messages []models.Message, i int) ([]models.Message, int) {
	j := i
	for j < len(messages) && messages[j].Role == models.RoleTool {
		j++
	}
	return messages[i:j], j
}

// output assembles a ReasonerOutput, trimming surrounding whitespace from text.
func output(text []string, calls []models.ToolCall) *agent.ReasonerOutput {
	return &agent.ReasonerOutput{
		Text:      strings.TrimSpace(strings.Join(text, "")),
		ToolCalls: calls,
	}
}
