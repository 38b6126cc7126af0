package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codechat/internal/logging"
)

// OpenAIClient streams chat completions from an OpenAI-compatible endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
		Timeout: 10 * time.Minute, // streaming responses can run long
	}
}

// NewOpenAIClient creates a client with custom config.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &OpenAIClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// StreamChat sends the prompts with streaming enabled and forwards content
// deltas as they arrive.
func (c *OpenAIClient) StreamChat(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	logging.ProviderDebug("[OpenAI] StreamChat: starting model=%s system_len=%d user_len=%d",
		c.model, len(systemPrompt), len(userPrompt))

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		// Auto-apply timeout if context has no deadline
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		startTime := time.Now()

		if c.apiKey == "" {
			logging.ProviderError("[OpenAI] StreamChat: API key not configured")
			errorChan <- fmt.Errorf("API key not configured")
			return
		}

		var messages []openAIMessage
		if systemPrompt != "" {
			messages = append(messages, openAIMessage{Role: "system", Content: systemPrompt})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: userPrompt})

		jsonData, err := json.Marshal(openAIRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorChan <- fmt.Errorf("request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errorChan <- fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				logging.Provider("[OpenAI] StreamChat: completed in %v", time.Since(startTime))
				return
			}

			var evt struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Error *struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				// One bad line must not kill an otherwise-healthy stream.
				logging.ProviderDebug("[OpenAI] StreamChat: skipping malformed event: %v", err)
				continue
			}
			if evt.Error != nil {
				errorChan <- fmt.Errorf("API error: %s", evt.Error.Message)
				return
			}
			if len(evt.Choices) == 0 {
				continue
			}
			if delta := evt.Choices[0].Delta.Content; delta != "" {
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					errorChan <- ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			logging.ProviderError("[OpenAI] StreamChat: stream error after %v: %v", time.Since(startTime), err)
			errorChan <- fmt.Errorf("stream error: %w", err)
			return
		}
		logging.Provider("[OpenAI] StreamChat: stream ended in %v", time.Since(startTime))
	}()

	return contentChan, errorChan
}
