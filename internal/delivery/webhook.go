package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/version"
)

// WebhookClient posts JSON payloads to arbitrary URLs.
type WebhookClient struct {
	httpClient *http.Client
}

// NewWebhookClient creates a webhook client with a per-request timeout.
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post sends payload as JSON to url.
func (c *WebhookClient) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Provider: "webhook", Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Provider: "webhook", Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyResponse("webhook", resp); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("webhook delivered", "url", maskURL(url), "status", resp.StatusCode)
	return nil
}
