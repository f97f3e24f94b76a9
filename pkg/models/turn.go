package models

import (
	"fmt"
	"time"
)

// Actor identifies who produced a turn.
type Actor string

const (
	ActorUser  Actor = "USER"
	ActorAgent Actor = "AGENT"
)

// Valid reports whether the actor is one of the known values.
func (a Actor) Valid() bool {
	return a == ActorUser || a == ActorAgent
}

// Turn is one persisted unit of conversation: a user message or a complete
// agent response cycle. Turns are written once and never updated.
type Turn struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Actor         Actor          `json:"actor"`
	Text          string         `json:"text_content,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	ToolResponses []ToolResponse `json:"tool_responses,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"timestamp"`
}

// Clone returns a deep copy of the turn.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := *t
	if t.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, call := range t.ToolCalls {
			out.ToolCalls[i] = call
			out.ToolCalls[i].Arguments = append([]byte(nil), call.Arguments...)
		}
	}
	if t.ToolResponses != nil {
		out.ToolResponses = make([]ToolResponse, len(t.ToolResponses))
		for i, resp := range t.ToolResponses {
			out.ToolResponses[i] = resp
			out.ToolResponses[i].Content = append([]byte(nil), resp.Content...)
		}
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ValidateCorrelation checks that every tool response in the turn answers
// exactly one tool call issued in the same turn, and that call IDs are unique.
func ValidateCorrelation(t *Turn) error {
	if t == nil {
		return nil
	}
	calls := make(map[string]bool, len(t.ToolCalls))
	for _, call := range t.ToolCalls {
		if call.ID == "" {
			return fmt.Errorf("tool call %q has empty id", call.Name)
		}
		if _, dup := calls[call.ID]; dup {
			return fmt.Errorf("duplicate tool call id %q", call.ID)
		}
		calls[call.ID] = false
	}
	for _, resp := range t.ToolResponses {
		answered, ok := calls[resp.CallID]
		if !ok {
			return fmt.Errorf("tool response %q has no matching call", resp.CallID)
		}
		if answered {
			return fmt.Errorf("tool call %q answered more than once", resp.CallID)
		}
		calls[resp.CallID] = true
	}
	return nil
}
