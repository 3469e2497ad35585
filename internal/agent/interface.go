package agent

import (
	"context"

	"taskagent/internal/models"
)

// TaskAgent defines the contract for chat backends. Implementations are
// fail-soft: ProcessMessage always returns an assistant message and never
// an error.
type TaskAgent interface {
	// ProcessMessage forwards one user message and returns the reply
	ProcessMessage(ctx context.Context, message string) models.ChatMessage

	// Cleanup releases backend resources. Safe to call repeatedly.
	Cleanup(ctx context.Context) error

	// Configured reports whether the backend can reach its model
	Configured() bool
}

// Ensure the backends implement TaskAgent
var (
	_ TaskAgent = (*FoundryAgent)(nil)
	_ TaskAgent = (*ClaudeAgent)(nil)
)
