package pkg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Generate(t *testing.T) {
	var gotCall ollamaApiCall
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCall))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "sqlcoder-7b-2",
			"message": map[string]string{"role": "assistant", "content": "SELECT COUNT(*) FROM querycraft_order"},
			"done":    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	resp, err := client.Generate(context.Background(), GenerationRequest{
		Question:    "how many orders?",
		Prompt:      "the prompt",
		Temperature: 0.2,
		MaxTokens:   256,
	})

	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM querycraft_order", resp.Text)
	assert.Equal(t, "sqlcoder-7b-2", gotCall.Model)
	assert.False(t, gotCall.Stream)
	require.Len(t, gotCall.Messages, 1)
	assert.Equal(t, "user", gotCall.Messages[0].Role)
	assert.Equal(t, "the prompt", gotCall.Messages[0].Content)
}

func TestOllamaClient_Generate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	_, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"})

	var failure *GenerationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureProvider, failure.Kind)
	assert.Contains(t, failure.Message, "model not loaded")
}

func TestOllamaClient_Generate_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connexion refusée garantie

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	_, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"})

	var failure *GenerationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureUnavailable, failure.Kind)
}

func TestOllamaClient_Generate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, GenerationRequest{Prompt: "p"})

	var failure *GenerationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureTimeout, failure.Kind)
}

func TestOllamaClient_Generate_CallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	_, err := client.Generate(ctx, GenerationRequest{Prompt: "p"})

	var failure *GenerationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureCanceled, failure.Kind)
	assert.Contains(t, failure.Message, "canceled by caller")
}

func TestOllamaClient_Generate_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "SELECT"},
			"done":    false,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "sqlcoder-7b-2")
	_, err := client.Generate(context.Background(), GenerationRequest{Prompt: "p"})

	var failure *GenerationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureProvider, failure.Kind)
}
