package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"taskagent/internal/config"
	"taskagent/internal/foundry"
	"taskagent/internal/logger"
	"taskagent/internal/models"
	"taskagent/internal/resilience"
	"taskagent/internal/services"
)

// Replies returned instead of an agent answer.
const (
	NotConfiguredMessage = "Foundry Agent Service is not properly configured. Please check your settings."
	EmptyResponseMessage = "I received your message but couldn't generate a response."
	ErrorMessage         = "I apologize, but I encountered an error processing your request."
)

// AgentLookup resolves hosted agent definitions by name.
type AgentLookup interface {
	GetAgent(ctx context.Context, name string) (*foundry.Agent, error)
}

// ConversationClient is the part of the responses API the agent needs.
type ConversationClient interface {
	CreateConversation(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) error
	CreateResponse(ctx context.Context, conversationID string, agent foundry.AgentReference) (*foundry.Response, error)
}

// CredentialProvider supplies the credential used to authenticate with the project.
type CredentialProvider func() (azcore.TokenCredential, error)

// DefaultCredential resolves credentials through the DefaultAzureCredential
// chain (environment, workload identity, managed identity, Azure CLI, ...).
func DefaultCredential() (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(nil)
}

// Connector opens a project client and derives its conversation sub-client.
type Connector func(endpoint string, credential azcore.TokenCredential) (AgentLookup, ConversationClient, error)

// ProjectConnector returns a Connector backed by the foundry HTTP client.
func ProjectConnector(settings config.Foundry) Connector {
	return func(endpoint string, credential azcore.TokenCredential) (AgentLookup, ConversationClient, error) {
		breaker := resilience.NewBreaker("foundry", settings.BreakerMaxFailures, settings.BreakerTimeout)
		project, err := foundry.NewProjectClient(endpoint, credential,
			foundry.WithAPIVersion(settings.APIVersion),
			foundry.WithScope(settings.Scope),
			foundry.WithHTTPClient(&http.Client{Timeout: settings.RequestTimeout}),
			foundry.WithBreaker(breaker),
		)
		if err != nil {
			return nil, nil, err
		}
		return project, project.Responses(), nil
	}
}

type sessionState int

const (
	sessionUnconfigured sessionState = iota
	sessionConfigured
)

func (s sessionState) String() string {
	if s == sessionConfigured {
		return "configured"
	}
	return "unconfigured"
}

// agentSession is the binding to one remote conversation. It is written
// once during construction and only read afterwards.
type agentSession struct {
	projectEndpoint string
	agentName       string
	agent           *foundry.Agent
	conversationID  string
	state           sessionState
}

// FoundryAgent forwards chat messages to an agent hosted in Azure AI Foundry.
//
// All messages share one remote conversation. Concurrent ProcessMessage calls
// are allowed but their turns may interleave on the remote side.
type FoundryAgent struct {
	tasks         services.TaskService
	session       agentSession
	conversations ConversationClient
}

// FoundryOption customizes NewFoundryAgent.
type FoundryOption func(*foundryOptions)

type foundryOptions struct {
	credential CredentialProvider
	connector  Connector
}

// WithCredentialProvider replaces DefaultCredential.
func WithCredentialProvider(p CredentialProvider) FoundryOption {
	return func(o *foundryOptions) { o.credential = p }
}

// WithConnector replaces ProjectConnector.
func WithConnector(c Connector) FoundryOption {
	return func(o *foundryOptions) { o.connector = c }
}

// NewFoundryAgent connects to the project, looks up the configured agent and
// opens a conversation. It never fails: any problem is logged and leaves the
// agent unconfigured, in which case every message gets NotConfiguredMessage.
func NewFoundryAgent(ctx context.Context, tasks services.TaskService, settings config.Foundry, opts ...FoundryOption) *FoundryAgent {
	o := foundryOptions{
		credential: DefaultCredential,
		connector:  ProjectConnector(settings),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &FoundryAgent{
		tasks: tasks,
		session: agentSession{
			projectEndpoint: settings.ProjectEndpoint,
			agentName:       settings.AgentName,
		},
	}

	log := logger.FromContext(ctx)
	if !settings.Configured() {
		log.Warn().Msg("Foundry Agent Service configuration missing. Set AZURE_AI_FOUNDRY_PROJECT_ENDPOINT and AZURE_AI_FOUNDRY_AGENT_NAME")
		return a
	}

	if err := a.connect(ctx, o); err != nil {
		if errors.Is(err, foundry.ErrAgentNotFound) {
			log.Warn().Err(err).Str("agent", settings.AgentName).Msg("Agent not found in project")
			return a
		}
		log.Error().Err(err).
			Str("endpoint", settings.ProjectEndpoint).
			Str("agent", settings.AgentName).
			Msg("Failed to initialize Foundry agent")
		return a
	}

	log.Info().
		Str("agent", a.session.agent.Name).
		Str("conversation_id", a.session.conversationID).
		Msg("Foundry agent initialized successfully")
	return a
}

// connect performs the remote half of construction. The session only becomes
// configured once every step has succeeded.
func (a *FoundryAgent) connect(ctx context.Context, o foundryOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during initialization: %v", r)
		}
	}()

	credential, err := o.credential()
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}

	lookup, conversations, err := o.connector(a.session.projectEndpoint, credential)
	if err != nil {
		return fmt.Errorf("create project client: %w", err)
	}

	agent, err := lookup.GetAgent(ctx, a.session.agentName)
	if err != nil {
		return fmt.Errorf("look up agent %q: %w", a.session.agentName, err)
	}
	if agent == nil {
		return fmt.Errorf("agent with name %q not found in project", a.session.agentName)
	}

	conversationID, err := conversations.CreateConversation(ctx)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	a.conversations = conversations
	a.session.agent = agent
	a.session.conversationID = conversationID
	a.session.state = sessionConfigured
	return nil
}

// Configured reports whether construction fully succeeded.
func (a *FoundryAgent) Configured() bool {
	return a.session.state == sessionConfigured
}

// ProcessMessage appends message to the remote conversation, asks the agent
// for a response and returns its text as an assistant message. Failures are
// logged and answered with a fixed apology; no error reaches the caller.
func (a *FoundryAgent) ProcessMessage(ctx context.Context, message string) (reply models.ChatMessage) {
	log := logger.FromContext(ctx)

	if !a.Configured() {
		log.Debug().Err(ErrNotConfigured).Msg("Foundry agent is not configured")
		return models.NewAssistantMessage(NotConfiguredMessage)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic processing message with Foundry Agent Service")
			reply = models.NewAssistantMessage(ErrorMessage)
		}
	}()

	text, err := a.exchange(ctx, message)
	if err != nil {
		log.Error().
			Err(err).
			Str("conversation_id", a.session.conversationID).
			Str("stack", string(debug.Stack())).
			Msg("Error processing message with Foundry Agent Service")
		return models.NewAssistantMessage(ErrorMessage)
	}

	if text == "" {
		return models.NewAssistantMessage(EmptyResponseMessage)
	}
	return models.NewAssistantMessage(text)
}

func (a *FoundryAgent) exchange(ctx context.Context, message string) (string, error) {
	conversationID := a.session.conversationID

	if err := a.conversations.AppendMessage(ctx, conversationID, string(models.RoleUser), message); err != nil {
		return "", err
	}

	resp, err := a.conversations.CreateResponse(ctx, conversationID, a.session.agent.Reference())
	if err != nil {
		return "", err
	}

	logger.FromContext(ctx).Debug().
		Str("conversation_id", conversationID).
		Str("response_id", responseID(resp)).
		Msg("Foundry response received")

	return responseText(resp), nil
}

// responseText resolves the response union into a single string.
func responseText(resp *foundry.Response) string {
	if resp == nil {
		return ""
	}
	switch resp.Kind {
	case foundry.ResponseRaw:
		return string(resp.RawOutput)
	default:
		return resp.Text
	}
}

func responseID(resp *foundry.Response) string {
	if resp == nil {
		return ""
	}
	return resp.ID
}

// Cleanup is a no-op: the remote service owns the conversation's lifetime.
func (a *FoundryAgent) Cleanup(ctx context.Context) error {
	logger.FromContext(ctx).Debug().
		Str("state", a.session.state.String()).
		Msg("Foundry agent cleanup")
	return nil
}
