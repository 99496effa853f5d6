// Package trilium is the note-store collaborator: it talks to a Trilium
// Notes server over its ETAPI to deduplicate, create, and label notes,
// mirroring the source's httpx-based ETAPI client.
package trilium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"airwaves/internal/apperr"
	"airwaves/internal/httpclient"
)

// NoteRef identifies an existing note.
type NoteRef struct {
	NoteID string
	URL    string
}

// NoteStore finds, creates, and labels notes in an external store.
// CreateNote also reports how many attempts the underlying HTTP call
// took, so callers can surface it on a job record.
type NoteStore interface {
	FindByLabel(ctx context.Context, name, value string) (*NoteRef, error)
	CreateNote(ctx context.Context, parentNoteID, title, body, mime string) (noteID string, attempts int, err error)
	AddLabel(ctx context.Context, noteID, name, value string) error
}

// Client is a NoteStore backed by a Trilium server's ETAPI.
type Client struct {
	BaseURL    string
	ETAPIToken string
	client     httpclient.Doer
}

// NewClient returns a Client using doer for outbound calls.
func NewClient(baseURL, etapiToken string, doer httpclient.Doer) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), ETAPIToken: etapiToken, client: doer}
}

func (c *Client) url(path string) string {
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// NoteURL returns the browser-viewable URL for a note.
func (c *Client) NoteURL(noteID string) string {
	return c.BaseURL + "/#root/" + noteID
}

func (c *Client) newRequest(method, url string, body []byte, contentType string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.ETAPIToken)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}
}

type searchResponse struct {
	Results []struct {
		NoteID string `json:"noteId"`
	} `json:"results"`
}

// FindByLabel searches for a note carrying the given label attribute.
// Transport failures are surfaced as apperr.ExternalUnavailable so
// callers can fail-open on dedup, per the source's own "don't fail the
// entire process" behavior.
func (c *Client) FindByLabel(ctx context.Context, name, value string) (*NoteRef, error) {
	query := fmt.Sprintf(`#%s="%s"`, name, value)
	reqURL := fmt.Sprintf("%s?search=%s", c.url("etapi/notes"), url.QueryEscape(query))

	resp, _, err := httpclient.DoWithRetry(ctx, c.client, c.newRequest(http.MethodGet, reqURL, nil, "application/json"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "malformed search response", err)
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}
	noteID := parsed.Results[0].NoteID
	if noteID == "" {
		return nil, nil
	}
	return &NoteRef{NoteID: noteID, URL: c.NoteURL(noteID)}, nil
}

type createNoteRequest struct {
	ParentNoteID string `json:"parentNoteId"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	Mime         string `json:"mime"`
	Content      string `json:"content"`
}

type createNoteResponse struct {
	Note struct {
		NoteID string `json:"noteId"`
	} `json:"note"`
}

// CreateNote creates a text note under parentNoteID.
func (c *Client) CreateNote(ctx context.Context, parentNoteID, title, body, mime string) (string, int, error) {
	payload, err := json.Marshal(createNoteRequest{
		ParentNoteID: parentNoteID,
		Title:        title,
		Type:         "text",
		Mime:         mime,
		Content:      body,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal create-note request: %w", err)
	}

	resp, attempts, err := httpclient.DoWithRetry(ctx, c.client, c.newRequest(http.MethodPost, c.url("etapi/create-note"), payload, "application/json"))
	if err != nil {
		return "", attempts, err
	}
	defer resp.Body.Close()

	var parsed createNoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", attempts, apperr.E(apperr.ExternalRejected, "malformed create-note response", err)
	}
	if parsed.Note.NoteID == "" {
		return "", attempts, apperr.E(apperr.ExternalRejected, "create-note response missing noteId", nil)
	}
	return parsed.Note.NoteID, attempts, nil
}

type addLabelRequest struct {
	NoteID string `json:"noteId"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// AddLabel attaches a label attribute to an existing note.
func (c *Client) AddLabel(ctx context.Context, noteID, name, value string) error {
	payload, err := json.Marshal(addLabelRequest{NoteID: noteID, Type: "label", Name: name, Value: value})
	if err != nil {
		return fmt.Errorf("marshal add-label request: %w", err)
	}

	resp, _, err := httpclient.DoWithRetry(ctx, c.client, c.newRequest(http.MethodPost, c.url("etapi/attributes"), payload, "application/json"))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
