// Package dispatch is the outbound action boundary: email/SMS delivery
// commands and webhook calls. Delivery mechanics (rendering, provider APIs)
// live downstream; vine only publishes commands and classifies failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Error classifies a dispatch failure. Transient failures are eligible for
// bounded retry; permanent failures are not.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent dispatch failure: %v", e.Err)
	}
	return fmt.Sprintf("transient dispatch failure: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps an error as a retryable dispatch failure
func Transient(err error) error {
	return &Error{Permanent: false, Err: err}
}

// Permanent wraps an error as a non-retryable dispatch failure
func Permanent(err error) error {
	return &Error{Permanent: true, Err: err}
}

// IsPermanent reports whether the error is a permanent dispatch failure
func IsPermanent(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Permanent
}

// IsTransient reports whether the error is a transient dispatch failure.
// Unclassified errors count as transient so unknown failures get retried
// rather than silently skipped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return !de.Permanent
	}
	return true
}

// Message is an outbound email or SMS delivery command
type Message struct {
	TenantID    string `json:"tenant_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	ContactID   string `json:"contact_id"`
	Channel     string `json:"channel"` // email | sms
	Recipient   string `json:"recipient"`
	TemplateID  string `json:"template_id"`
	Subject     string `json:"subject,omitempty"`
}

// WebhookRequest is an outbound HTTP call descriptor
type WebhookRequest struct {
	TenantID    string
	ExecutionID string
	StepID      string
	URL         string
	Method      string
	Headers     map[string]string
	Body        []byte
	TimeoutSecs int
}

// Dispatcher is the outbound action boundary. A nil return means the action
// was accepted; failures are classified with Transient/Permanent.
type Dispatcher interface {
	SendEmail(ctx context.Context, msg Message) error
	SendSMS(ctx context.Context, msg Message) error
	CallWebhook(ctx context.Context, req WebhookRequest) error
}
