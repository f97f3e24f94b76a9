package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/groundwork/internal/agent"
	"google.golang.org/genai"
)

var catalog = []agent.ToolDefinition{
	{
		Name:        "retrieve_knowledge_base",
		Description: "Search clinical reference material",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","minLength":1},"top_k":{"type":"integer"}},"required":["query"]}`),
	},
	{
		Name:        "broken",
		Description: "Bad schema",
		InputSchema: json.RawMessage(`{not-json}`),
	},
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools(catalog)
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("unexpected parameters: %#v", tools[0].Function.Parameters)
	}
	fallback := tools[1].Function.Parameters.(map[string]any)
	if fallback["type"] != "object" {
		t.Errorf("bad schema should degrade to an empty object, got %#v", fallback)
	}
	if ToOpenAITools(nil) != nil {
		t.Error("empty catalog should convert to nil")
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools(catalog[:1])
	if err != nil {
		t.Fatalf("ToAnthropicTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil || tools[0].OfTool.Name != "retrieve_knowledge_base" {
		t.Fatalf("unexpected tools: %#v", tools)
	}
	if _, err := ToAnthropicTools(catalog); err == nil {
		t.Error("expected error for an invalid schema")
	}
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools(catalog[:1])
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tools: %#v", tools)
	}
	params := tools[0].FunctionDeclarations[0].Parameters
	if params.Type != genai.TypeObject {
		t.Errorf("Type = %q, want OBJECT", params.Type)
	}
	query := params.Properties["query"]
	if query == nil || query.Type != genai.TypeString || query.MinLength == nil || *query.MinLength != 1 {
		t.Errorf("query property = %#v", query)
	}
	if params.Properties["top_k"].Type != genai.TypeInteger {
		t.Errorf("top_k type = %q", params.Properties["top_k"].Type)
	}
	if len(params.Required) != 1 || params.Required[0] != "query" {
		t.Errorf("Required = %v", params.Required)
	}

	broken := ToGeminiTools(catalog[1:])[0].FunctionDeclarations[0].Parameters
	if broken == nil || broken.Type != genai.TypeObject || len(broken.Properties) != 0 {
		t.Errorf("bad schema should degrade to an empty object, got %#v", broken)
	}
}

func TestToBedrockTools(t *testing.T) {
	cfg := ToBedrockTools(catalog)
	if cfg == nil || len(cfg.Tools) != 2 {
		t.Fatalf("expected 2 bedrock tools, got %#v", cfg)
	}

	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected ToolMemberToolSpec, got %T", cfg.Tools[0])
	}
	if spec.Value.Name == nil || *spec.Value.Name != "retrieve_knowledge_base" {
		t.Fatalf("unexpected tool name: %#v", spec.Value.Name)
	}
	if spec.Value.InputSchema == nil {
		t.Fatalf("expected input schema to be set")
	}
	if ToBedrockTools(nil) != nil {
		t.Error("empty catalog should convert to nil")
	}
}
