// Package tools exposes task-manager operations to the Claude agent.
// Each tool has a name, a description the model reads, a JSON schema for its
// input, and a function that executes it against the task service.
package tools

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"

	"taskagent/internal/services"
)

// ToolDefinition defines a tool that can be used by the agent.
type ToolDefinition struct {
	// Name is the identifier of the tool used by Claude to invoke it
	Name string `json:"name"`

	// Description explains what the tool does and when to use it
	Description string `json:"description"`

	// InputSchema defines the expected parameters and their types
	InputSchema anthropic.ToolInputSchemaParam `json:"input_schema"`

	// Function is the implementation executed when the tool is used
	Function func(ctx context.Context, input json.RawMessage) (string, error)
}

// GenerateSchema creates a JSON schema for the given type
func GenerateSchema[T any]() anthropic.ToolInputSchemaParam {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var v T

	schema := reflector.Reflect(v)

	return anthropic.ToolInputSchemaParam{
		Properties: schema.Properties,
	}
}

// GetAllTools returns every tool, bound to the given task service
func GetAllTools(svc services.TaskService) []ToolDefinition {
	return append(TaskTools(svc), TimeProviderToolDefinition)
}

// Find searches defs for a tool by name
func Find(defs []ToolDefinition, name string) (ToolDefinition, bool) {
	for _, def := range defs {
		if def.Name == name {
			return def, true
		}
	}
	return ToolDefinition{}, false
}
