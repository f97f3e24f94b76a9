package toolconv

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/groundwork/internal/agent"
)

// ToBedrockTools converts the tool catalog to a Converse tool configuration.
// An empty catalog returns nil; Bedrock rejects an empty tool list.
func ToBedrockTools(tools []agent.ToolDefinition) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	bedrockTools := make([]types.Tool, len(tools))
	for i, tool := range tools {
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(SchemaMap(tool.InputSchema))},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
