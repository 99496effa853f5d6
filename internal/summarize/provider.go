// Package summarize is the summarization collaborator: it turns a prompt
// built from a transcript into a short summary via an external HTTP
// text-generation provider.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"airwaves/internal/apperr"
	"airwaves/internal/httpclient"
)

// Result is the outcome of a summarization call.
type Result struct {
	Text           string
	Provider       string
	Model          string
	PromptTokens   int
	ResponseTokens int
	Attempts       int
}

// Provider produces a summary for a prompt.
type Provider interface {
	Summarize(ctx context.Context, prompt string) (Result, error)
}

// BuildPrompt constructs the summarization prompt from a transcript and
// its source metadata.
func BuildPrompt(transcript, title, channel string) string {
	return fmt.Sprintf(
		"Summarize the following transcript in a few concise paragraphs.\n\nTitle: %s\nChannel: %s\n\nTranscript:\n%s",
		title, channel, transcript,
	)
}

// HTTPProvider calls a chat-completion-style JSON API.
type HTTPProvider struct {
	Endpoint string
	APIKey   string
	Model    string
	client   httpclient.Doer
}

// NewHTTPProvider returns an HTTPProvider using doer for outbound calls.
func NewHTTPProvider(endpoint, apiKey, model string, doer httpclient.Doer) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, APIKey: apiKey, Model: model, client: doer}
}

type summarizeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type summarizeResponse struct {
	Text           string `json:"text"`
	PromptTokens   int    `json:"prompt_tokens"`
	ResponseTokens int    `json:"response_tokens"`
}

// Summarize implements Provider.
func (p *HTTPProvider) Summarize(ctx context.Context, prompt string) (Result, error) {
	payload, err := json.Marshal(summarizeRequest{Model: p.Model, Prompt: prompt})
	if err != nil {
		return Result{}, fmt.Errorf("marshal summarize request: %w", err)
	}

	newReq := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}
		return req, nil
	}

	resp, attempts, err := httpclient.DoWithRetry(ctx, p.client, newReq)
	if err != nil {
		return Result{Attempts: attempts}, err
	}
	defer resp.Body.Close()

	var parsed summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, apperr.E(apperr.ExternalRejected, "malformed summarize response", err)
	}

	return Result{
		Text:           parsed.Text,
		Provider:       "http",
		Model:          p.Model,
		PromptTokens:   parsed.PromptTokens,
		ResponseTokens: parsed.ResponseTokens,
		Attempts:       attempts,
	}, nil
}
