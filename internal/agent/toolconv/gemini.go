package toolconv

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/groundwork/internal/agent"
	"google.golang.org/genai"
)

// ToGeminiTools wraps the catalog in one Gemini tool with a function
// declaration per definition.
func ToGeminiTools(tools []agent.ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  geminiSchema(tool.InputSchema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// jsonSchema is the subset of JSON Schema Gemini understands.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Enum        []any                  `json:"enum"`
	MinLength   *int64                 `json:"minLength"`
	MaxLength   *int64                 `json:"maxLength"`
	Minimum     *float64               `json:"minimum"`
	Maximum     *float64               `json:"maximum"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
	Items       *jsonSchema            `json:"items"`
}

func geminiSchema(raw json.RawMessage) *genai.Schema {
	var js jsonSchema
	if len(raw) == 0 || json.Unmarshal(raw, &js) != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return js.toGemini()
}

func (s *jsonSchema) toGemini() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		MinLength:   s.MinLength,
		MaxLength:   s.MaxLength,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		Required:    s.Required,
		Items:       s.Items.toGemini(),
	}
	for _, v := range s.Enum {
		if str, ok := v.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.toGemini()
		}
	}
	return out
}
