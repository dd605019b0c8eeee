package tasks

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

	"github.com/bissquit/leadflow/internal/jobs"
	"github.com/bissquit/leadflow/internal/version"
)

const defaultAITimeout = 60 * time.Second

// AIConfig configures the AI collaborator client.
type AIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AIClient calls the external AI service for document embedding and lead
// research.
type AIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAIClient creates a client for the AI service at config.BaseURL.
func NewAIClient(config AIConfig) *AIClient {
	if config.Timeout == 0 {
		config.Timeout = defaultAITimeout
	}
	return &AIClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// EmbedResult is the AI service response to an embed request.
type EmbedResult struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

// ResearchResult is the AI service response to a research request.
type ResearchResult struct {
	LeadID  string         `json:"leadId"`
	Summary string         `json:"summary,omitempty"`
	Facts   map[string]any `json:"facts,omitempty"`
}

// Embed asks the AI service to chunk and embed a document.
func (c *AIClient) Embed(ctx context.Context, documentID string) (*EmbedResult, error) {
	var result EmbedResult
	if err := c.post(ctx, "/embed", map[string]any{"documentId": documentID}, &result); err != nil {
		return nil, err
	}
	if result.DocumentID == "" {
		result.DocumentID = documentID
	}
	return &result, nil
}

// Research asks the AI service to research a lead.
func (c *AIClient) Research(ctx context.Context, leadID, batchID string) (*ResearchResult, error) {
	body := map[string]any{"leadId": leadID}
	if batchID != "" {
		body["batchId"] = batchID
	}

	var result ResearchResult
	if err := c.post(ctx, "/research", body, &result); err != nil {
		return nil, err
	}
	if result.LeadID == "" {
		result.LeadID = leadID
	}
	return &result, nil
}

// post sends body to path and decodes the response into out. Client errors
// are permanent; server, rate limit and transport errors may be retried.
func (c *AIClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return jobs.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("ai %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return jobs.Permanent(err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ai %s: decode response: %w", path, err)
	}
	return nil
}
