// Package llm is a thin client for OpenAI-compatible chat completion
// APIs, used for content extraction and agent decisions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
)

// DefaultBaseURL is the default OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com/v1"

// defaultTemperature matches what the decision prompts were tuned
// against.
const defaultTemperature = 0.7

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the default model for completions.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible API other than
// the default, such as a local model server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// NewClient creates a client with the given API key. An empty key falls
// back to the OPENAI_API_KEY environment variable; OPENAI_BASE_URL
// overrides the default endpoint when no explicit base URL is set.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	c := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      "gpt-4o",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			c.baseURL = envBaseURL
		}
	}

	return c, nil
}

// Model returns the client's default model.
func (c *Client) Model() string {
	return c.model
}

// SystemMessage builds a system message.
func SystemMessage(content string) any {
	return openai.SystemMessage(content)
}

// UserMessage builds a plain-text user message.
func UserMessage(content string) any {
	return openai.UserMessage(content)
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) any {
	return openai.AssistantMessage(content)
}

// VisionMessage builds a user message carrying text plus an inline
// base64 PNG screenshot.
func VisionMessage(text, screenshotB64 string) any {
	return map[string]any{
		"role": "user",
		"content": []any{
			map[string]any{"type": "text", "text": text},
			map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": "data:image/png;base64," + screenshotB64},
			},
		},
	}
}

// Complete sends a chat completion request and returns the assistant's
// text. An empty model uses the client default; jsonMode asks the API
// to emit a single JSON object.
func (c *Client) Complete(ctx context.Context, model string, messages []any, jsonMode bool) (string, error) {
	if model == "" {
		model = c.model
	}

	reqBody := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": defaultTemperature,
	}
	if jsonMode {
		reqBody["response_format"] = map[string]any{"type": "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBytes))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("API response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// ExtractJSON strips markdown code fences from a model reply and falls
// back to the outermost braces, so lightly-decorated JSON still parses.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
