package agent

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"taskagent/internal/agent/tools"
	"taskagent/internal/config"
	"taskagent/internal/logger"
	"taskagent/internal/models"
	"taskagent/internal/services"
)

// ClaudeNotConfiguredMessage is returned when no Anthropic API key is set.
const ClaudeNotConfiguredMessage = "Claude agent is not properly configured. Please check your settings."

// MessageSender sends one Messages API request.
type MessageSender func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)

// ClaudeAgent answers chat messages with Claude, letting the model manage
// tasks through tool calls. Unlike FoundryAgent it keeps the conversation
// locally, so calls are serialized.
type ClaudeAgent struct {
	send          MessageSender
	tools         []tools.ToolDefinition
	toolParams    []anthropic.ToolUnionParam
	model         string
	maxTokens     int64
	maxToolRounds int

	mu           sync.Mutex
	conversation []anthropic.MessageParam
}

// ClaudeOption customizes NewClaudeAgent.
type ClaudeOption func(*ClaudeAgent)

// WithMessageSender replaces the Anthropic client.
func WithMessageSender(send MessageSender) ClaudeOption {
	return func(a *ClaudeAgent) { a.send = send }
}

// NewClaudeAgent creates a Claude-backed agent with the task tools bound to
// tasks. Without an API key (and no injected sender) the agent is unconfigured.
func NewClaudeAgent(ctx context.Context, tasks services.TaskService, cfg config.Claude, opts ...ClaudeOption) *ClaudeAgent {
	log := logger.FromContext(ctx)

	a := &ClaudeAgent{
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		maxToolRounds: cfg.MaxToolRounds,
	}
	if a.maxToolRounds < 1 {
		a.maxToolRounds = 1
	}
	if tasks != nil {
		a.tools = tools.GetAllTools(tasks)
	}
	a.toolParams = prepareToolDefinitions(a.tools)

	if cfg.APIKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
		a.send = func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return client.Messages.New(ctx, params)
		}
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.send == nil {
		log.Warn().Msg("ANTHROPIC_API_KEY environment variable is not set")
		return a
	}

	log.Debug().
		Str("model", a.model).
		Int64("maxTokens", a.maxTokens).
		Int("numTools", len(a.tools)).
		Int("maxToolRounds", a.maxToolRounds).
		Msg("Creating new Claude agent")
	return a
}

// Configured reports whether the agent has a Messages API client.
func (a *ClaudeAgent) Configured() bool {
	return a.send != nil
}

// ProcessMessage runs one user turn, executing tool calls until Claude
// answers in text or the tool round limit is reached.
func (a *ClaudeAgent) ProcessMessage(ctx context.Context, message string) (reply models.ChatMessage) {
	log := logger.FromContext(ctx)
	if !a.Configured() {
		log.Debug().Err(ErrNotConfigured).Msg("Claude agent is not configured")
		return models.NewAssistantMessage(ClaudeNotConfiguredMessage)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic processing message with Claude")
			reply = models.NewAssistantMessage(ErrorMessage)
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	text, conversation, err := a.run(ctx, message)
	if err != nil {
		log.Error().
			Err(err).
			Str("stack", string(debug.Stack())).
			Msg("Error processing message with Claude")
		return models.NewAssistantMessage(ErrorMessage)
	}

	// Only completed turns are kept, so a failed call leaves no dangling messages.
	a.conversation = conversation

	if text == "" {
		return models.NewAssistantMessage(EmptyResponseMessage)
	}
	return models.NewAssistantMessage(text)
}

// run must be called with a.mu held.
func (a *ClaudeAgent) run(ctx context.Context, message string) (string, []anthropic.MessageParam, error) {
	conversation := make([]anthropic.MessageParam, len(a.conversation), len(a.conversation)+2)
	copy(conversation, a.conversation)
	conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))

	for round := 1; ; round++ {
		resp, err := a.send(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			Messages:  conversation,
			Tools:     a.toolParams,
		})
		if err != nil {
			return "", nil, err
		}

		conversation = append(conversation, resp.ToParam())

		text, toolResults := a.processContent(ctx, resp)
		if len(toolResults) == 0 {
			return text, conversation, nil
		}

		if round >= a.maxToolRounds {
			return "", nil, &ErrLoopProtection{Rounds: round, Max: a.maxToolRounds}
		}
		conversation = append(conversation, anthropic.NewUserMessage(toolResults...))
	}
}

// processContent collects reply text and executes any tool calls in resp.
func (a *ClaudeAgent) processContent(ctx context.Context, resp *anthropic.Message) (string, []anthropic.ContentBlockParamUnion) {
	var (
		sb          strings.Builder
		toolResults []anthropic.ContentBlockParamUnion
	)
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			sb.WriteString(content.Text)
		case "tool_use":
			toolResults = append(toolResults, a.executeTool(ctx, content.ID, content.Name, content.Input))
		}
	}
	return sb.String(), toolResults
}

// executeTool runs the specified tool and returns its result
func (a *ClaudeAgent) executeTool(ctx context.Context, id, name string, input json.RawMessage) anthropic.ContentBlockParamUnion {
	result, err := a.callTool(ctx, name, input)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("tool", name).Msg("Tool call failed")
		return anthropic.NewToolResultBlock(id, err.Error(), true)
	}
	return anthropic.NewToolResultBlock(id, result, false)
}

func (a *ClaudeAgent) callTool(ctx context.Context, name string, input json.RawMessage) (string, error) {
	toolDef, found := tools.Find(a.tools, name)
	if !found {
		return "", &ErrToolNotFound{ToolName: name}
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	logger.FromContext(ctx).Info().
		Str("tool", name).
		RawJSON("input", input).
		Msg("Executing tool")

	result, err := toolDef.Function(ctx, input)
	if err != nil {
		return "", &ErrToolExecution{ToolName: name, Err: err}
	}
	return result, nil
}

// prepareToolDefinitions converts local tool definitions to Anthropic format
func prepareToolDefinitions(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(defs))

	for i, tool := range defs {
		anthropicTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: tool.InputSchema,
			},
		}
	}

	return anthropicTools
}

// Reset drops the locally held conversation.
func (a *ClaudeAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversation = nil
}

// Cleanup has nothing to release; the conversation is kept for reuse.
func (a *ClaudeAgent) Cleanup(ctx context.Context) error {
	logger.FromContext(ctx).Debug().Msg("Claude agent cleanup")
	return nil
}
