package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerProvider returns the circuit breaker guarding one model. A
// nil provider (or a nil breaker) disables breaker protection.
type BreakerProvider func(name string) *gobreaker.CircuitBreaker

// FallbackClient walks an ordered list of models until one answers.
// Each model sits behind its own circuit breaker so a dead primary is
// skipped without waiting out its timeout on every call.
type FallbackClient struct {
	clients  []*Client
	breakers BreakerProvider
	log      zerolog.Logger
}

// NewFallbackClient wires clients in priority order. At least one
// client is required.
func NewFallbackClient(clients []*Client, breakers BreakerProvider, log zerolog.Logger) (*FallbackClient, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("fallback client needs at least one model")
	}
	return &FallbackClient{
		clients:  clients,
		breakers: breakers,
		log:      log.With().Str("component", "llm_fallback").Logger(),
	}, nil
}

func (f *FallbackClient) breakerFor(model string) *gobreaker.CircuitBreaker {
	if f.breakers == nil {
		return nil
	}
	return f.breakers("llm:" + model)
}

// Complete tries each model in order, skipping open circuits and
// stopping early on non-retryable errors from the gateway itself.
func (f *FallbackClient) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	return f.complete(ctx, func(c *Client) (*ChatResponse, error) {
		return c.Complete(ctx, messages)
	})
}

// CompleteWithRetry retries within each model before moving on.
func (f *FallbackClient) CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error) {
	return f.complete(ctx, func(c *Client) (*ChatResponse, error) {
		return c.CompleteWithRetry(ctx, messages, maxRetries)
	})
}

func (f *FallbackClient) complete(ctx context.Context, call func(*Client) (*ChatResponse, error)) (*ChatResponse, error) {
	var lastErr error
	for i, client := range f.clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model := client.Model()
		cb := f.breakerFor(model)

		var resp *ChatResponse
		var err error
		if cb != nil {
			var out interface{}
			out, err = cb.Execute(func() (interface{}, error) {
				return call(client)
			})
			if err == nil {
				resp = out.(*ChatResponse)
			}
		} else {
			resp, err = call(client)
		}

		if err == nil {
			if i > 0 {
				f.log.Info().Str("model", model).Int("priority", i).Msg("Fallback model answered")
			}
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) {
			f.log.Debug().Str("model", model).Msg("Model circuit open, trying next")
			continue
		}

		var lerr *LLMError
		if errors.As(err, &lerr) && !lerr.IsRetryable() && lerr.Type == ErrTypeInvalid {
			// A bad request fails the same way on every model.
			return nil, err
		}

		f.log.Warn().Err(err).Str("model", model).Msg("Model failed, trying next")
	}
	return nil, fmt.Errorf("all models failed: %w", lastErr)
}

// CompleteWithSystem mirrors Client.CompleteWithSystem across the
// fallback chain.
func (f *FallbackClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := f.Complete(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseJSONResponse delegates to the primary client's parser.
func (f *FallbackClient) ParseJSONResponse(content string, target interface{}) error {
	return f.clients[0].ParseJSONResponse(content, target)
}
