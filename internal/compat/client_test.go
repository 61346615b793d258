package compat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripdesk/groundwork/internal/completion"
	apperrors "github.com/tripdesk/groundwork/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		EmbeddingModel: "test-embed",
		ChatModel:      "test-chat",
		Dimensions:     3,
	})
}

func TestClient_CreateEmbedding(t *testing.T) {
	t.Run("returns first embedding", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "test-embed", body["model"])
			assert.InDelta(t, 3, body["dimensions"], 0)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"model":  "test-embed",
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
				},
			})
		})

		vec, err := client.CreateEmbedding(context.Background(), "  seoul night market  ")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	})

	t.Run("empty input is rejected without a call", func(t *testing.T) {
		client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
			t.Error("unexpected request")
		})

		_, err := client.CreateEmbedding(context.Background(), "   ")
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("429 becomes a rate-limited provider error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		})

		_, err := client.CreateEmbedding(context.Background(), "hello")
		require.Error(t, err)

		pe, ok := apperrors.AsProviderError(err)
		require.True(t, ok)
		assert.True(t, pe.RateLimited())
		assert.Equal(t, "compatible", pe.Provider)
	})

	t.Run("non-JSON 503 keeps the status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("upstream down"))
		})

		_, err := client.CreateEmbedding(context.Background(), "hello")
		pe, ok := apperrors.AsProviderError(err)
		require.True(t, ok)
		assert.True(t, pe.ServerError())
	})
}

func TestClient_Complete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-chat", body.Model)
		require.Len(t, body.Messages, 4)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Equal(t, "plan day 1", body.Messages[3].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": `{"days":[]}`}},
			},
		})
	})

	text, err := client.Complete(context.Background(), completion.Request{
		System: "You plan trips.",
		History: []completion.Message{
			{Role: completion.RoleUser, Content: "hi"},
			{Role: completion.RoleAssistant, Content: "hello"},
		},
		Prompt:      "plan day 1",
		Temperature: 0.7,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"days":[]}`, text)
}
