package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/groundwork/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts the tool catalog to OpenAI function definitions.
func ToOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  SchemaMap(tool.InputSchema),
			},
		}
	}
	return result
}

// SchemaMap decodes a JSON schema. An unparseable schema becomes an empty
// object schema so one bad tool does not break the whole catalog.
func SchemaMap(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil || schema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return schema
}
