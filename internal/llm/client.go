// Package llm talks to an OpenAI-compatible chat gateway and hosts
// the final entry gate: a yes/no validation with a risk level, plus
// the dynamic profit-target rubric. The gate degrades to deterministic
// rules when the gateway is unreachable.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Error classes used to decide whether a fallback model is worth
// trying immediately.
const (
	ErrTypeRateLimited = "rate_limited"
	ErrTypeServer      = "server"
	ErrTypeInvalid     = "invalid_request"
	ErrTypeNetwork     = "network"
	ErrTypeEmpty       = "empty_response"
)

// LLMError is a classified gateway failure.
type LLMError struct {
	Type      string
	Message   string
	Retryable bool
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s: %s", e.Type, e.Message)
}

func (e *LLMError) IsRetryable() bool { return e.Retryable }

// ChatRequest is the OpenAI-compatible request envelope.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the OpenAI-compatible response envelope.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client posts chat completions to one model behind the gateway.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	log         zerolog.Logger
}

// ClientConfig configures a single-model client.
type ClientConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewClient builds a chat client. Timeout defaults to 30s and is where
// the 15-30s budget for a validation call is enforced.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         log.With().Str("component", "llm").Str("model", cfg.Model).Logger(),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	body, err := json.Marshal(ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &LLMError{Type: ErrTypeNetwork, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LLMError{Type: ErrTypeNetwork, Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, raw)
	}

	var chat ChatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, &LLMError{Type: ErrTypeServer, Message: "unparseable response: " + err.Error(), Retryable: true}
	}
	if len(chat.Choices) == 0 {
		return nil, &LLMError{Type: ErrTypeEmpty, Message: "no choices in response", Retryable: true}
	}

	c.log.Debug().
		Int("prompt_tokens", chat.Usage.PromptTokens).
		Int("completion_tokens", chat.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Chat completion done")
	return &chat, nil
}

func classifyStatus(status int, raw []byte) *LLMError {
	msg := string(raw)
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &LLMError{Type: ErrTypeRateLimited, Message: msg, Retryable: true}
	case status >= 500:
		return &LLMError{Type: ErrTypeServer, Message: fmt.Sprintf("status %d: %s", status, msg), Retryable: true}
	default:
		return &LLMError{Type: ErrTypeInvalid, Message: fmt.Sprintf("status %d: %s", status, msg), Retryable: false}
	}
}

// CompleteWithSystem sends a system + user prompt pair and returns the
// first choice's content.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Complete(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithRetry retries transient failures with a quadratic
// backoff. Non-retryable errors return immediately.
func (c *Client) CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			c.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying chat completion")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.Complete(ctx, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var lerr *LLMError
		if errors.As(err, &lerr) && !lerr.IsRetryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("chat completion failed after %d attempts: %w", maxRetries+1, lastErr)
}

// ParseJSONResponse extracts the JSON object from a completion. Models
// wrap answers in markdown fences or prose despite instructions, so a
// fenced block is unwrapped first and the first {...} region is used
// as a fallback.
func (c *Client) ParseJSONResponse(content string, target interface{}) error {
	cleaned := extractJSON(content)
	if cleaned == "" {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}

func extractJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+7:]
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
	}
	if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[:idx]
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(content[start : i+1])
			}
		}
	}
	return strings.TrimSpace(content[start:])
}
