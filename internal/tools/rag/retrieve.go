// Package rag exposes knowledge-base retrieval as an agent tool.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/pkg/models"
	"github.com/invopop/jsonschema"
)

// ToolName is the published name of the retrieval tool.
const ToolName = "retrieve_knowledge_base"

// Retriever is the retrieval backend, typically *rag.Service.
type Retriever interface {
	Query(ctx context.Context, query string, topK int) ([]models.FactRecord, error)
}

// RetrieveTool implements agent.Tool over a Retriever.
type RetrieveTool struct {
	retriever Retriever
	topK      int
}

var _ agent.Tool = (*RetrieveTool)(nil)

// retrieveInput is the argument shape reflected into the tool schema.
type retrieveInput struct {
	Query string `json:"query" jsonschema:"required,minLength=1" jsonschema_description:"Search query describing the facts needed to answer the user"`
}

var (
	schemaOnce sync.Once
	schemaJSON json.RawMessage
)

// NewRetrieveTool returns the retrieval tool. topK <= 0 defers to the retriever's default.
func NewRetrieveTool(retriever Retriever, topK int) *RetrieveTool {
	return &RetrieveTool{retriever: retriever, topK: topK}
}

// Name returns the tool name.
func (t *RetrieveTool) Name() string {
	return ToolName
}

// Description returns the tool description.
func (t *RetrieveTool) Description() string {
	return "Retrieves passages from the knowledge base relevant to a query. " +
		"Use it whenever an answer depends on reference material, and cite the returned sources."
}

// Schema returns the JSON schema for tool parameters.
func (t *RetrieveTool) Schema() json.RawMessage {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		schema := r.Reflect(&retrieveInput{})
		schema.Version = ""
		data, err := json.Marshal(schema)
		if err != nil {
			data = []byte(`{"type":"object","properties":{"query":{"type":"string","minLength":1}},"required":["query"]}`)
		}
		schemaJSON = data
	})
	return schemaJSON
}

// Execute runs the query. An empty query is an invalid_input failure; an
// empty result is a success with no records.
func (t *RetrieveTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input retrieveInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, agent.NewToolError(ToolName, fmt.Errorf("decode arguments: %w", err)).
			WithType(agent.ToolErrorInvalidInput)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, agent.NewToolError(ToolName, errors.New("query is required")).
			WithType(agent.ToolErrorInvalidInput)
	}

	records, err := t.retriever.Query(ctx, query, t.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge base query failed: %w", err)
	}
	if records == nil {
		records = []models.FactRecord{}
	}
	return &agent.ToolResult{Records: records}, nil
}
