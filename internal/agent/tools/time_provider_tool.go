package tools

import (
	"context"
	"encoding/json"
	"time"
)

// TimeProviderToolDefinition defines the time_provider tool
var TimeProviderToolDefinition = ToolDefinition{
	Name:        "time_provider",
	Description: "Get the current system time, e.g. to reason about due dates. Returns ISO 8601 unless a Go layout is given.",
	InputSchema: GetTimeInputSchema,
	Function:    GetTime,
}

// GetTimeInput defines the input parameters for the time_provider tool
type GetTimeInput struct {
	Format string `json:"format,omitempty" jsonschema_description:"Optional Go time layout. If not provided, ISO 8601 format will be used."`
}

// GetTimeInputSchema is the JSON schema for the time_provider tool
var GetTimeInputSchema = GenerateSchema[GetTimeInput]()

var now = time.Now

// GetTime implements the time_provider tool functionality
func GetTime(_ context.Context, input json.RawMessage) (string, error) {
	getTimeInput := GetTimeInput{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &getTimeInput); err != nil {
			return "", err
		}
	}

	timeFormat := time.RFC3339
	if getTimeInput.Format != "" {
		timeFormat = getTimeInput.Format
	}

	return now().Format(timeFormat), nil
}
