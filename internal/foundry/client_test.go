package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"taskagent/internal/logger"
	"taskagent/internal/resilience"
)

type staticCredential struct {
	token  string
	err    error
	scopes []string
}

func (c *staticCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.scopes = opts.Scopes
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type recordedRequest struct {
	Method     string
	Path       string
	APIVersion string
	Auth       string
	Body       string
}

type fakeProject struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body string)
}

func (f *fakeProject) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		APIVersion: r.URL.Query().Get("api-version"),
		Auth:       r.Header.Get("Authorization"),
		Body:       string(data),
	})
	f.mu.Unlock()
	f.handler(w, r, string(data))
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string), opts ...Option) (*ProjectClient, *fakeProject) {
	t.Helper()
	fake := &fakeProject{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewProjectClient(srv.URL+"/api/projects/demo/", &staticCredential{token: "tok"}, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, fake
}

func TestNewProjectClientValidatesEndpoint(t *testing.T) {
	cred := &staticCredential{token: "tok"}
	for _, endpoint := range []string{"", "not a url", "ftp://example.com", "https://"} {
		if _, err := NewProjectClient(endpoint, cred); err == nil {
			t.Errorf("expected error for endpoint %q", endpoint)
		}
	}
	if _, err := NewProjectClient("https://example.services.ai.azure.com/api/projects/p", nil); err == nil {
		t.Error("expected error for nil credential")
	}

	c, err := NewProjectClient("https://example.services.ai.azure.com/api/projects/p/", cred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.endpoint != "https://example.services.ai.azure.com/api/projects/p" {
		t.Errorf("expected trailing slash trimmed, got %q", c.endpoint)
	}
}

func TestGetAgent(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"id":"asst_1","name":"task-helper","object":"agent"}`))
	}, WithAPIVersion("2099-01-01"))

	agent, err := c.GetAgent(context.Background(), "task-helper")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.ID != "asst_1" || agent.Name != "task-helper" {
		t.Errorf("unexpected agent: %+v", agent)
	}

	req := fake.requests[0]
	if req.Method != http.MethodGet || req.Path != "/api/projects/demo/agents/task-helper" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.APIVersion != "2099-01-01" {
		t.Errorf("expected api-version override, got %q", req.APIVersion)
	}
	if req.Auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", req.Auth)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"no such agent"}}`))
	})

	_, err := c.GetAgent(context.Background(), "missing")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestTokenScope(t *testing.T) {
	fake := &fakeProject{handler: func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"id":"conv_1"}`))
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cred := &staticCredential{token: "tok"}
	c, err := NewProjectClient(srv.URL, cred, WithScope("https://custom/.default"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Responses().CreateConversation(context.Background()); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if len(cred.scopes) != 1 || cred.scopes[0] != "https://custom/.default" {
		t.Errorf("unexpected scopes: %v", cred.scopes)
	}
}

func TestCredentialFailure(t *testing.T) {
	fake := &fakeProject{handler: func(http.ResponseWriter, *http.Request, string) {
		t.Error("no request should reach the server without a token")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	errAuth := errors.New("no identity available")
	c, err := NewProjectClient(srv.URL, &staticCredential{err: errAuth})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.GetAgent(context.Background(), "x"); !errors.Is(err, errAuth) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		switch r.URL.Path {
		case "/api/projects/demo/openai/conversations":
			_, _ = w.Write([]byte(`{"id":"conv_123","object":"conversation"}`))
		case "/api/projects/demo/openai/conversations/conv_123/items":
			_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
		case "/api/projects/demo/openai/responses":
			_, _ = w.Write([]byte(`{
				"id":"resp_1",
				"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Your order ships tomorrow."}]}]
			}`))
		default:
			http.NotFound(w, r)
		}
	})

	responses := c.Responses()
	ctx := context.Background()

	convID, err := responses.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if convID != "conv_123" {
		t.Fatalf("unexpected conversation id %q", convID)
	}

	if err := responses.AppendMessage(ctx, convID, "user", "where is my order?"); err != nil {
		t.Fatalf("append: %v", err)
	}

	agent := &Agent{Name: "task-helper"}
	resp, err := responses.CreateResponse(ctx, convID, agent.Reference())
	if err != nil {
		t.Fatalf("create response: %v", err)
	}
	if resp.Kind != ResponseText || resp.Text != "Your order ships tomorrow." {
		t.Errorf("unexpected response: %+v", resp)
	}

	var items struct {
		Items []map[string]string `json:"items"`
	}
	if err := json.Unmarshal([]byte(fake.requests[1].Body), &items); err != nil {
		t.Fatalf("decode items body: %v", err)
	}
	if len(items.Items) != 1 || items.Items[0]["type"] != "message" ||
		items.Items[0]["role"] != "user" || items.Items[0]["content"] != "where is my order?" {
		t.Errorf("unexpected items body: %s", fake.requests[1].Body)
	}

	var respBody struct {
		Conversation string            `json:"conversation"`
		Input        *string           `json:"input"`
		Agent        map[string]string `json:"agent"`
	}
	if err := json.Unmarshal([]byte(fake.requests[2].Body), &respBody); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	if respBody.Conversation != "conv_123" {
		t.Errorf("expected conversation id, got %q", respBody.Conversation)
	}
	if respBody.Input == nil || *respBody.Input != "" {
		t.Errorf("expected empty input, got %v", respBody.Input)
	}
	if respBody.Agent["name"] != "task-helper" || respBody.Agent["type"] != "agent_reference" {
		t.Errorf("unexpected agent reference: %v", respBody.Agent)
	}
}

func TestCreateConversationMissingID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := c.Responses().CreateConversation(context.Background()); err == nil {
		t.Fatal("expected error for conversation without id")
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream exploded`))
	})

	err := c.Responses().AppendMessage(context.Background(), "conv", "user", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream exploded" {
		t.Errorf("unexpected API error: %+v", apiErr)
	}
	if !apiErr.ServerError() {
		t.Error("502 should be a server error")
	}
	if !strings.Contains(err.Error(), "append message") {
		t.Errorf("expected wrapped context, got %q", err.Error())
	}
}

func TestBreakerTripsOnServerErrorsOnly(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusBadRequest
	setStatus := func(code int) {
		mu.Lock()
		status = code
		mu.Unlock()
	}
	b := resilience.NewBreaker("foundry", 2, time.Minute)
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}, WithBreaker(b))
	ctx := context.Background()
	responses := c.Responses()

	for _, code := range []int{http.StatusBadRequest, http.StatusTooManyRequests} {
		setStatus(code)
		for i := 0; i < 3; i++ {
			_ = responses.AppendMessage(ctx, "conv", "user", "hi")
		}
		if b.State() != resilience.StateClosed {
			t.Fatalf("status %d must not trip the breaker, got %s", code, b.State())
		}
	}

	setStatus(http.StatusServiceUnavailable)
	_ = responses.AppendMessage(ctx, "conv", "user", "hi")
	_ = responses.AppendMessage(ctx, "conv", "user", "hi")

	err := responses.AppendMessage(ctx, "conv", "user", "hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(fake.requests) != 8 {
		t.Errorf("expected 8 requests to reach the server (no retries), got %d", len(fake.requests))
	}
}

func TestClientRequestIDForwarded(t *testing.T) {
	var got []string
	var mu sync.Mutex
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		mu.Lock()
		got = append(got, r.Header.Get("x-ms-client-request-id"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"conv_1"}`))
	})

	ctx := logger.WithRequestID(context.Background(), "req-42")
	if _, err := c.Responses().CreateConversation(ctx); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := c.Responses().CreateConversation(context.Background()); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if got[0] != "req-42" {
		t.Errorf("expected request id forwarded, got %q", got[0])
	}
	if got[1] == "" || got[1] == "req-42" {
		t.Errorf("expected a generated request id, got %q", got[1])
	}
}
