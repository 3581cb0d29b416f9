package pkg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GenerationFailureKind classifies why a generation call failed.
type GenerationFailureKind string

const (
	// FailureUnavailable: provider unreachable (connection refused, DNS, ...).
	FailureUnavailable GenerationFailureKind = "provider_unavailable"
	// FailureTimeout: the configured generation bound elapsed.
	FailureTimeout GenerationFailureKind = "timeout"
	// FailureProvider: reachable provider returned a non-2xx or broken payload.
	FailureProvider GenerationFailureKind = "provider_error"
	// FailureCanceled: the caller abandoned the request before the timeout,
	// typically a dropped client connection.
	FailureCanceled GenerationFailureKind = "canceled"
)

// GenerationFailure is the tagged error returned by Generate.
type GenerationFailure struct {
	Kind    GenerationFailureKind
	Message string
}

func (slf *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed (%s): %s", slf.Kind, slf.Message)
}

// GenerationResponse is the raw text produced by the provider. The text is
// untrusted free-form output; only the extractor and validator decide what,
// if anything, of it is SQL.
type GenerationResponse struct {
	Text string
}

// Generator is the capability boundary to the text-generation provider.
// Identical prompts may yield different text across calls; that is expected
// and not an error.
type Generator interface {
	Generate(ctx context.Context, request GenerationRequest) (GenerationResponse, error)
}

type ollamaRawResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type ollamaApiCall struct {
	Model    string           `json:"model"`
	Messages []ollamaChatTurn `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  map[string]any   `json:"options"`
}

type ollamaChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaClient talks to a local Ollama instance over its chat API.
type OllamaClient struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaClient(host, model string) *OllamaClient {
	return &OllamaClient{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

// Generate submits the prompt and returns the generated text. The caller's
// context carries the generation timeout; cancellation aborts the request.
func (slf *OllamaClient) Generate(ctx context.Context, request GenerationRequest) (GenerationResponse, error) {
	call := ollamaApiCall{
		Model: slf.model,
		Messages: []ollamaChatTurn{
			{Role: "user", Content: request.Prompt},
		},
		Stream: false,
		Options: map[string]any{
			"temperature": request.Temperature,
			"num_predict": request.MaxTokens,
		},
	}

	data, err := json.Marshal(call)
	if err != nil {
		return GenerationResponse{}, &GenerationFailure{Kind: FailureProvider, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/api/chat", slf.host),
		bytes.NewBuffer(data),
	)
	if err != nil {
		return GenerationResponse{}, &GenerationFailure{Kind: FailureProvider, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := slf.client.Do(req)
	if err != nil {
		return GenerationResponse{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerationResponse{}, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GenerationResponse{}, &GenerationFailure{
			Kind:    FailureProvider,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var raw ollamaRawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return GenerationResponse{}, &GenerationFailure{Kind: FailureProvider, Message: err.Error()}
	}

	// Un flux non terminé signifie une réponse tronquée côté provider.
	if !raw.Done {
		return GenerationResponse{}, &GenerationFailure{Kind: FailureProvider, Message: "generation not done"}
	}

	return GenerationResponse{Text: raw.Message.Content}, nil
}

func classifyTransportError(ctx context.Context, err error) *GenerationFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GenerationFailure{Kind: FailureTimeout, Message: "generation timed out"}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &GenerationFailure{Kind: FailureCanceled, Message: "generation canceled by caller"}
	}
	return &GenerationFailure{Kind: FailureUnavailable, Message: err.Error()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
