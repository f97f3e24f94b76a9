package sessions

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/groundwork/pkg/models"
)

// turnColumns holds the JSON-encoded columns of a turn row. Empty values are
// stored as NULL.
type turnColumns struct {
	toolCalls     any
	toolResponses any
	metadata      any
}

func encodeTurnColumns(turn *models.Turn) (turnColumns, error) {
	var cols turnColumns
	var err error
	if len(turn.ToolCalls) > 0 {
		if cols.toolCalls, err = marshalColumn(turn.ToolCalls); err != nil {
			return cols, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
	}
	if len(turn.ToolResponses) > 0 {
		if cols.toolResponses, err = marshalColumn(turn.ToolResponses); err != nil {
			return cols, fmt.Errorf("failed to marshal tool responses: %w", err)
		}
	}
	if len(turn.Metadata) > 0 {
		if cols.metadata, err = marshalColumn(turn.Metadata); err != nil {
			return cols, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return cols, nil
}

func marshalColumn(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeTurnColumns(turn *models.Turn, toolCalls, toolResponses, metadata []byte) error {
	if len(toolCalls) > 0 && string(toolCalls) != "null" {
		if err := json.Unmarshal(toolCalls, &turn.ToolCalls); err != nil {
			return fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if len(toolResponses) > 0 && string(toolResponses) != "null" {
		if err := json.Unmarshal(toolResponses, &turn.ToolResponses); err != nil {
			return fmt.Errorf("failed to unmarshal tool responses: %w", err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &turn.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return nil
}
