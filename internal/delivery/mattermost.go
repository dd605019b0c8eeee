package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Leadflow"
)

// MattermostConfig holds Mattermost notifier configuration.
type MattermostConfig struct {
	WebhookURL string
	Username   string
	IconURL    string
	Timeout    time.Duration
}

// MattermostNotifier posts operational notifications to a Mattermost
// incoming webhook.
type MattermostNotifier struct {
	config     MattermostConfig
	httpClient *http.Client
}

// NewMattermostNotifier creates a new Mattermost notifier.
func NewMattermostNotifier(config MattermostConfig) *MattermostNotifier {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &MattermostNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type mattermostPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Notify posts text to the configured webhook.
func (n *MattermostNotifier) Notify(ctx context.Context, text string) error {
	if n.config.WebhookURL == "" {
		return &PermanentError{Provider: "mattermost", Message: "webhook URL is empty"}
	}

	body, err := json.Marshal(mattermostPayload{
		Text:     text,
		Username: n.config.Username,
		IconURL:  n.config.IconURL,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Provider: "mattermost", Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyResponse("mattermost", resp); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("mattermost message sent", "webhook", maskURL(n.config.WebhookURL))
	return nil
}

// LogNotifier writes notifications to the log. Used when no Mattermost
// webhook is configured.
type LogNotifier struct{}

// Notify logs text.
func (LogNotifier) Notify(ctx context.Context, text string) error {
	ctxlog.FromContext(ctx).Info("workflow notification", "message", text)
	return nil
}

// classifyResponse maps an HTTP status to nil, a PermanentError or a
// RetryableError.
func classifyResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Provider: provider, Code: resp.StatusCode, Message: "rate limited"}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Provider: provider, Code: resp.StatusCode, Message: "unauthorized"}
	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Provider: provider, Code: resp.StatusCode, Message: "endpoint not found"}
	case resp.StatusCode >= 500:
		return &RetryableError{Provider: provider, Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", string(body))}
	default:
		return &PermanentError{Provider: provider, Code: resp.StatusCode, Message: fmt.Sprintf("unexpected response: %s", string(body))}
	}
}

// maskURL hides part of the URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
