package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServerReply(content string) string {
	body := map[string]interface{}{
		"id":    "chatcmpl-test",
		"model": "test-model",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	return client, server
}

func TestClient_Complete(t *testing.T) {
	var gotAuth string
	var gotReq ChatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatServerReply("hello")))
	})

	resp, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "hi", gotReq.Messages[0].Content)
}

func TestClient_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantType  string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, ErrTypeRateLimited, true},
		{"server error", http.StatusInternalServerError, ErrTypeServer, true},
		{"bad request", http.StatusBadRequest, ErrTypeInvalid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error": {"message": "nope", "type": "test"}}`))
			})

			_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
			require.Error(t, err)

			var lerr *LLMError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tc.wantType, lerr.Type)
			assert.Equal(t, tc.retryable, lerr.IsRetryable())
			assert.Contains(t, lerr.Message, "nope")
		})
	}
}

func TestClient_EmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "x", "model": "m", "choices": []}`))
	})

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	var lerr *LLMError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, ErrTypeEmpty, lerr.Type)
	assert.True(t, lerr.IsRetryable())
}

func TestClient_RetrySucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatServerReply("second try")))
	})

	resp, err := client.CompleteWithRetry(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 2)
	require.NoError(t, err)
	assert.Equal(t, "second try", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RetryStopsOnNonRetryable(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad schema"}}`))
	})

	_, err := client.CompleteWithRetry(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "non-retryable errors must not be retried")
}

func TestClient_RetryHonoursContextCancel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.CompleteWithRetry(ctx, []ChatMessage{{Role: "user", Content: "hi"}}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 2*time.Second, "cancel must interrupt the backoff sleep")
}

func TestParseJSONResponse(t *testing.T) {
	client := NewClient(ClientConfig{Model: "m"}, zerolog.Nop())

	type verdict struct {
		Approve    bool    `json:"approve"`
		Confidence float64 `json:"confidence"`
	}

	cases := []struct {
		name    string
		content string
	}{
		{"plain", `{"approve": true, "confidence": 0.8}`},
		{"fenced json", "```json\n{\"approve\": true, \"confidence\": 0.8}\n```"},
		{"bare fence", "```\n{\"approve\": true, \"confidence\": 0.8}\n```"},
		{"prose wrapped", `Sure, here is my answer: {"approve": true, "confidence": 0.8} hope that helps`},
		{"nested braces", `{"approve": true, "confidence": 0.8, "extra": {"a": 1}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v verdict
			require.NoError(t, client.ParseJSONResponse(tc.content, &v))
			assert.True(t, v.Approve)
			assert.InDelta(t, 0.8, v.Confidence, 1e-9)
		})
	}

	t.Run("no object", func(t *testing.T) {
		var v verdict
		assert.Error(t, client.ParseJSONResponse("I cannot answer that.", &v))
	})
}
