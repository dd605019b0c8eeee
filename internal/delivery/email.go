package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	DialTimeout  time.Duration
}

// EmailSender sends email via SMTP with STARTTLS when offered.
type EmailSender struct {
	config EmailConfig
	auth   smtp.Auth
}

// NewEmailSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewEmailSender(config EmailConfig) (*EmailSender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &EmailSender{
		config: config,
		auth:   auth,
	}, nil
}

// Send sends one email. The generated Message-ID is returned as the
// external id.
func (s *EmailSender) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, &PermanentError{Provider: "smtp", Message: "recipient is empty"}
	}

	messageID := s.messageID()
	if !s.config.Enabled {
		ctxlog.FromContext(ctx).Warn("email sender disabled, skipping send", "message_id", messageID)
		return Result{ExternalID: messageID}, nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	tlsConfig := &tls.Config{
		ServerName: s.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	if err := s.sendWithSTARTTLS(ctx, addr, tlsConfig, msg.To, s.buildMessage(messageID, msg)); err != nil {
		return Result{}, classifySMTPError(err)
	}
	return Result{ExternalID: messageID}, nil
}

func (s *EmailSender) messageID() string {
	domain := "localhost"
	from := extractEmail(s.config.FromAddress)
	if at := strings.LastIndex(from, "@"); at != -1 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildMessage constructs the email message with headers.
func (s *EmailSender) buildMessage(messageID string, m Message) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", m.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", m.Subject))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(m.Body)

	return []byte(msg.String())
}

// sendWithSTARTTLS sends an email using STARTTLS (port 587).
func (s *EmailSender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, rcpt string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classifySMTPError wraps err as retryable for network failures and SMTP
// 4xx replies, permanent otherwise.
func classifySMTPError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RetryableError{Provider: "smtp", Message: err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &RetryableError{Provider: "smtp", Message: err.Error()}
	}

	errStr := err.Error()
	for _, code := range []string{"421", "450", "451", "452", "552"} {
		if strings.Contains(errStr, code) {
			return &RetryableError{Provider: "smtp", Message: errStr}
		}
	}

	return &PermanentError{Provider: "smtp", Message: errStr}
}
