package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions are model runtime options.
type ChatOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *ChatOptions `json:"options,omitempty"`
}

// StatusError is a non-2xx response, or a 2xx response whose body is not JSON.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama chat: status %d: %s", e.Status, e.Body)
}

// ChatClient posts non-streaming chat requests and returns the raw response body.
type ChatClient struct {
	url    string
	client *http.Client
}

// NewChatClient creates a chat client. baseURL may be the server root or the
// full /api/chat endpoint.
func NewChatClient(baseURL string, timeout time.Duration) *ChatClient {
	url := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(url, "/api/chat") {
		url += "/api/chat"
	}
	return &ChatClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Chat sends req and returns the response JSON unchanged. Transport failures
// are returned as-is; HTTP failures as *StatusError.
func (c *ChatClient) Chat(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama chat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: data}
	}
	if !json.Valid(data) {
		return nil, &StatusError{Status: http.StatusBadGateway, Body: data}
	}
	return json.RawMessage(data), nil
}
