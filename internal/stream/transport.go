package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codechat/internal/chat"
)

// Request describes one chat turn sent upstream.
type Request struct {
	SessionID    string               `json:"-"`
	Message      string               `json:"message"`
	Files        []chat.MentionedFile `json:"files,omitempty"`
	SystemPrompt string               `json:"systemPrompt,omitempty"`
	AgentName    string               `json:"agentName,omitempty"`
}

// Transport opens one streaming chat request and returns the raw SSE body.
// The controller owns the returned reader and closes it when the turn ends.
type Transport interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HTTPTransport posts to a chat endpoint speaking the data: <json> wire.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the given server base URL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPTransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Open posts the request and returns the response body for streaming reads.
func (t *HTTPTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}
