// Package asr is the transcription collaborator: it turns a captured
// audio file into text via an external speech-to-text HTTP provider.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"airwaves/internal/apperr"
	"airwaves/internal/httpclient"
)

// Result is the outcome of a transcription call.
type Result struct {
	Text                 string
	AudioDurationSeconds float64
	Provider             string
	Model                string
	Tokens               int
	Attempts             int
}

// Provider transcribes an audio file.
type Provider interface {
	Transcribe(ctx context.Context, audioFilePath string) (Result, error)
}

// HTTPProvider calls a remote transcription API that accepts a
// multipart/form-data upload and returns a JSON transcript.
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

type transcribeResponse struct {
	Text                 string  `json:"text"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	Tokens               int     `json:"tokens"`
}

// Transcribe implements Provider.
func (p *HTTPProvider) Transcribe(ctx context.Context, audioFilePath string) (Result, error) {
	newReq := func(ctx context.Context) (*http.Request, error) {
		f, err := os.Open(audioFilePath)
		if err != nil {
			return nil, fmt.Errorf("open audio file: %w", err)
		}
		defer f.Close()

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", filepath.Base(audioFilePath))
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, fmt.Errorf("read audio file: %w", err)
		}
		if p.Model != "" {
			_ = writer.WriteField("model", p.Model)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
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

	var parsed transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, apperr.E(apperr.ExternalRejected, "malformed transcription response", err)
	}

	return Result{
		Text:                 parsed.Text,
		AudioDurationSeconds: parsed.AudioDurationSeconds,
		Provider:             "http",
		Model:                p.Model,
		Tokens:               parsed.Tokens,
		Attempts:             attempts,
	}, nil
}
