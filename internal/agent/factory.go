package agent

import (
	"context"

	"taskagent/internal/config"
	"taskagent/internal/logger"
	"taskagent/internal/services"
)

// New builds the agent selected by cfg.Backend. Like the backends themselves
// it never fails; an unusable backend comes back unconfigured.
func New(ctx context.Context, cfg *config.Config, tasks services.TaskService) TaskAgent {
	logger.FromContext(ctx).Info().Str("backend", cfg.Backend).Msg("Creating agent")

	switch cfg.Backend {
	case config.BackendClaude:
		return NewClaudeAgent(ctx, tasks, cfg.Claude)
	default:
		return NewFoundryAgent(ctx, tasks, cfg.Foundry)
	}
}
