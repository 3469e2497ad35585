package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// AgentReference names the hosted agent that should answer a response request.
type AgentReference struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResponsesClient covers the conversation and response endpoints.
type ResponsesClient struct {
	project *ProjectClient
}

type conversationItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateConversation starts a new server-side conversation and returns its ID.
func (r *ResponsesClient) CreateConversation(ctx context.Context) (string, error) {
	data, err := r.project.do(ctx, http.MethodPost, "/openai/conversations", struct{}{})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	id := gjson.GetBytes(data, "id").String()
	if id == "" {
		return "", errors.New("create conversation: response has no id")
	}
	return id, nil
}

// AppendMessage adds a message item to the conversation.
func (r *ResponsesClient) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	body := struct {
		Items []conversationItem `json:"items"`
	}{
		Items: []conversationItem{{Type: "message", Role: role, Content: content}},
	}
	path := "/openai/conversations/" + url.PathEscape(conversationID) + "/items"
	if _, err := r.project.do(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// CreateResponse asks the agent to answer the conversation as it stands.
// No new input is sent; the latest conversation item is the prompt.
func (r *ResponsesClient) CreateResponse(ctx context.Context, conversationID string, agent AgentReference) (*Response, error) {
	body := struct {
		Conversation string         `json:"conversation"`
		Input        string         `json:"input"`
		Agent        AgentReference `json:"agent"`
	}{
		Conversation: conversationID,
		Agent:        agent,
	}
	data, err := r.project.do(ctx, http.MethodPost, "/openai/responses", body)
	if err != nil {
		return nil, fmt.Errorf("create response: %w", err)
	}
	return parseResponse(data), nil
}

// ResponseKind tags which branch of Response is populated.
type ResponseKind int

const (
	// ResponseText carries extracted text, possibly empty.
	ResponseText ResponseKind = iota
	// ResponseRaw carries an output structure with no recognizable text parts.
	ResponseRaw
)

// Response is the result of CreateResponse.
type Response struct {
	ID        string
	Kind      ResponseKind
	Text      string
	RawOutput json.RawMessage
}

// parseResponse prefers a top-level output_text field, then the output_text
// parts of an output array, and otherwise keeps the raw output.
func parseResponse(body []byte) *Response {
	doc := gjson.ParseBytes(body)
	resp := &Response{ID: doc.Get("id").String(), Kind: ResponseText}

	if text := doc.Get("output_text"); text.Exists() {
		resp.Text = text.String()
		return resp
	}

	output := doc.Get("output")
	if !output.Exists() || output.Type == gjson.Null || output.IsArray() {
		resp.Text = collectOutputText(output)
		return resp
	}

	// a bare string is already the reply text
	if output.Type == gjson.String {
		resp.Text = output.String()
		return resp
	}

	resp.Kind = ResponseRaw
	resp.RawOutput = json.RawMessage(output.Raw)
	return resp
}

func collectOutputText(output gjson.Result) string {
	var sb strings.Builder
	output.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				sb.WriteString(part.Get("text").String())
			}
			return true
		})
		return true
	})
	return sb.String()
}
