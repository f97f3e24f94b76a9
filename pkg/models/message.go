package models

import (
	"encoding/json"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the canonical in-memory message handed to reasoning backends.
// It is derived from stored turns and never persisted directly.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool-role messages only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall represents a reasoner's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponse is the normalized outcome of one tool call.
// On success Content is a JSON array of FactRecord (possibly empty);
// on failure it is a JSON ErrorDescriptor.
type ToolResponse struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	OK       bool            `json:"ok"`
	Content  json.RawMessage `json:"content"`
}

// ErrorDescriptor is the content of a failed ToolResponse.
type ErrorDescriptor struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FactRecord is a single retrieved piece of grounding material.
type FactRecord struct {
	Identifier     string  `json:"identifier"`
	Text           string  `json:"text"`
	Source         string  `json:"source"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Records decodes a successful response's content into fact records.
// A failed response returns nil.
func (r ToolResponse) Records() ([]FactRecord, error) {
	if !r.OK {
		return nil, nil
	}
	if len(r.Content) == 0 {
		return []FactRecord{}, nil
	}
	var records []FactRecord
	if err := json.Unmarshal(r.Content, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ErrorDetail decodes a failed response's error descriptor.
func (r ToolResponse) ErrorDetail() (ErrorDescriptor, bool) {
	if r.OK || len(r.Content) == 0 {
		return ErrorDescriptor{}, false
	}
	var desc ErrorDescriptor
	if err := json.Unmarshal(r.Content, &desc); err != nil {
		return ErrorDescriptor{Type: "unknown", Message: string(r.Content)}, true
	}
	return desc, true
}
