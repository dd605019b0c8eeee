// Package delivery sends outbound messages: email over SMTP, Mattermost
// notifications and JSON webhooks.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Message is a single outbound message.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Result describes an accepted message.
type Result struct {
	// ExternalID is the provider's id for the message, used to match
	// delivery callbacks.
	ExternalID string
}

// Sender delivers messages over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// PermanentError indicates a delivery error that should not be retried.
type PermanentError struct {
	Provider string
	Code     int
	Message  string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary delivery error.
type RetryableError struct {
	Provider string
	Code     int
	Message  string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// IsPermanent reports whether err was classified as permanent by a sender.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
