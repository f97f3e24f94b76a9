package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/internal/sessions"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// DefaultHistoryLimit is the number of turns loaded when no limit is configured.
const DefaultHistoryLimit = 20

// HistoryLoader reconstructs a bounded, chronologically ordered context
// window from the message store. It holds no cache: every call reads fresh.
type HistoryLoader struct {
	store  sessions.Store
	logger *observability.Logger
}

// NewHistoryLoader creates a loader over store.
func NewHistoryLoader(store sessions.Store, logger *observability.Logger) *HistoryLoader {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &HistoryLoader{store: store, logger: logger}
}

// Load returns at most limit turns for sessionID, oldest first.
//
// An empty session yields an empty slice and a nil error. Storage failures
// are wrapped with ErrHistoryUnavailable.
func (h *HistoryLoader) Load(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	if limit <= 0 {
		return []*models.Turn{}, nil
	}
	turns, err := h.store.QueryRecent(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}

	// The adapter returns newest first; a misbehaving adapter must still
	// not exceed the ceiling.
	if len(turns) > limit {
		turns = turns[:limit]
	}
	out := make([]*models.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i] != nil {
			out = append(out, turns[i])
		}
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) }) {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	return out, nil
}

// LoadMessages loads history and converts it to reasoner messages.
func (h *HistoryLoader) LoadMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	turns, err := h.Load(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	messages, dropped := TurnsToMessages(turns)
	if dropped > 0 {
		h.logger.Warn(ctx, "dropped orphaned tool responses from history", "count", dropped)
	}
	return messages, nil
}

// TurnsToMessages maps stored turns onto the canonical message sequence.
//
//   - USER turn: one user message.
//   - AGENT turn: an assistant message carrying its text and tool calls, then
//     one tool message per response tagged with the call ID. A finalized
//     turn that has calls, responses and final text emits the assistant
//     calls first, the tool messages next and the final text last.
//
// Tool responses whose call ID was not issued in the same or the immediately
// preceding AGENT turn are dropped; the count is returned.
func TurnsToMessages(turns []*models.Turn) ([]models.Message, int) {
	messages := make([]models.Message, 0, len(turns)*2)
	dropped := 0
	var previousCalls map[string]bool

	for _, turn := range turns {
		if turn == nil {
			continue
		}
		switch turn.Actor {
		case models.ActorUser:
			messages = append(messages, models.Message{
				Role:    models.RoleUser,
				Content: turn.Text,
			})
			previousCalls = nil

		case models.ActorAgent:
			calls := make(map[string]bool, len(turn.ToolCalls))
			for _, call := range turn.ToolCalls {
				calls[call.ID] = true
			}

			// Responses to the previous turn's calls are replayed first so
			// every tool message directly follows the calls it answers.
			var carried, own []models.ToolResponse
			for _, resp := range turn.ToolResponses {
				switch {
				case calls[resp.CallID]:
					own = append(own, resp)
				case previousCalls[resp.CallID]:
					carried = append(carried, resp)
				default:
					dropped++
				}
			}
			messages = append(messages, toolMessages(carried)...)

			switch {
			case len(turn.ToolCalls) > 0 && len(own) > 0 && turn.Text != "":
				messages = append(messages, assistantMessage("", turn.ToolCalls))
				messages = append(messages, toolMessages(own)...)
				messages = append(messages, assistantMessage(turn.Text, nil))
			case len(turn.ToolCalls) > 0 || turn.Text != "":
				messages = append(messages, assistantMessage(turn.Text, turn.ToolCalls))
				messages = append(messages, toolMessages(own)...)
			}
			previousCalls = calls
		}
	}
	return messages, dropped
}

func assistantMessage(text string, calls []models.ToolCall) models.Message {
	msg := models.Message{Role: models.RoleAssistant, Content: text}
	if len(calls) > 0 {
		msg.ToolCalls = make([]models.ToolCall, len(calls))
		copy(msg.ToolCalls, calls)
	}
	return msg
}

func toolMessages(responses []models.ToolResponse) []models.Message {
	out := make([]models.Message, 0, len(responses))
	for _, resp := range responses {
		out = append(out, ToolResponseMessage(resp))
	}
	return out
}

// ToolResponseMessage renders a response as a tool-role message.
func ToolResponseMessage(resp models.ToolResponse) models.Message {
	return models.Message{
		Role:       models.RoleTool,
		Content:    RenderToolContent(resp),
		ToolCallID: resp.CallID,
		ToolName:   resp.ToolName,
	}
}

// RenderToolContent serializes a response payload to its canonical text
// form: compact JSON. Failures are prefixed so the reasoner can tell them apart.
func RenderToolContent(resp models.ToolResponse) string {
	content := resp.Content
	if len(content) == 0 {
		if resp.OK {
			return "[]"
		}
		return "error"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, content); err != nil {
		buf.Reset()
		buf.Write(content)
	}
	if !resp.OK {
		return "error: " + buf.String()
	}
	return buf.String()
}
