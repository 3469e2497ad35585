// Package foundry is an HTTP client for an Azure AI Foundry project: agent
// lookup plus the conversations and responses endpoints used to talk to a
// hosted agent.
package foundry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/tidwall/gjson"

	"taskagent/internal/logger"
	"taskagent/internal/resilience"
)

const (
	// DefaultAPIVersion is sent as the api-version query parameter.
	DefaultAPIVersion = "2025-11-15-preview"
	// DefaultScope is the token audience for Foundry projects.
	DefaultScope = "https://ai.azure.com/.default"

	moduleName    = "taskagent/foundry"
	moduleVersion = "v1.0.0"
)

// Agent is a hosted agent definition.
type Agent struct {
	ID   string
	Name string
}

// Reference returns the agent reference used when creating responses.
func (a *Agent) Reference() AgentReference {
	return AgentReference{Name: a.Name, Type: "agent_reference"}
}

// ProjectClient talks to a single Foundry project. Requests go through an
// azcore pipeline that adds the bearer token, a client request ID and
// telemetry. Retries are disabled; failing calls are reported to the caller.
type ProjectClient struct {
	endpoint   string
	apiVersion string
	scope      string
	credential azcore.TokenCredential
	httpClient *http.Client
	breaker    *resilience.Breaker
	pipeline   runtime.Pipeline
}

// Option customizes a ProjectClient.
type Option func(*ProjectClient)

// WithAPIVersion overrides DefaultAPIVersion.
func WithAPIVersion(v string) Option {
	return func(c *ProjectClient) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithScope overrides DefaultScope.
func WithScope(scope string) Option {
	return func(c *ProjectClient) {
		if scope != "" {
			c.scope = scope
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ProjectClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBreaker routes every call through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *ProjectClient) {
		c.breaker = b
	}
}

// NewProjectClient creates a client for the project at endpoint. Tokens are
// only sent over plain http when endpoint itself is an http URL.
func NewProjectClient(endpoint string, credential azcore.TokenCredential, opts ...Option) (*ProjectClient, error) {
	if credential == nil {
		return nil, errors.New("credential is required")
	}
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: expected an absolute http(s) URL", endpoint)
	}

	c := &ProjectClient{
		endpoint:   strings.TrimRight(u.String(), "/"),
		apiVersion: DefaultAPIVersion,
		scope:      DefaultScope,
		credential: credential,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker != nil {
		c.breaker.WithFailureFilter(countsAsOutage)
	}

	insecure := u.Scheme == "http"
	c.pipeline = runtime.NewPipeline(moduleName, moduleVersion,
		runtime.PipelineOptions{
			PerRetry: []policy.Policy{
				runtime.NewBearerTokenPolicy(credential, []string{c.scope}, &policy.BearerTokenOptions{
					InsecureAllowCredentialWithHTTP: insecure,
				}),
			},
		},
		&policy.ClientOptions{
			InsecureAllowCredentialWithHTTP: insecure,
			Retry:                           policy.RetryOptions{MaxRetries: -1},
			Transport:                       c.httpClient,
		},
	)
	return c, nil
}

// Responses returns the sub-client for conversation operations.
func (c *ProjectClient) Responses() *ResponsesClient {
	return &ResponsesClient{project: c}
}

// GetAgent looks up an agent definition by name.
func (c *ProjectClient) GetAgent(ctx context.Context, name string) (*Agent, error) {
	data, err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(name), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}

	doc := gjson.ParseBytes(data)
	agent := &Agent{
		ID:   doc.Get("id").String(),
		Name: doc.Get("name").String(),
	}
	if agent.Name == "" {
		agent.Name = name
	}
	return agent, nil
}

func (c *ProjectClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		data, err := c.roundTrip(ctx, method, path, body)
		result = data
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	return result, err
}

func (c *ProjectClient) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	reqURL := c.endpoint + path + "?api-version=" + url.QueryEscape(c.apiVersion)
	req, err := runtime.NewRequest(ctx, method, reqURL)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Raw().Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Raw().Header.Set("x-ms-client-request-id", id)
	}
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	data, err := runtime.Payload(resp)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	logger.FromContext(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("client_request_id", req.Raw().Header.Get("x-ms-client-request-id")).
		Dur("elapsed", time.Since(start)).
		Msg("Foundry request")

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	doc := gjson.ParseBytes(body)
	if msg := doc.Get("error.message"); msg.Exists() {
		apiErr.Message = msg.String()
		apiErr.Code = doc.Get("error.code").String()
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
