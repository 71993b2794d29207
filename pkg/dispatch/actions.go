package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// ActionDispatcher is the production Dispatcher: email/SMS commands go to the
// delivery topic, webhooks are called directly with a bounded timeout.
type ActionDispatcher struct {
	producer       *kafka.Producer
	client         *http.Client
	logger         logging.Logger
	defaultTimeout time.Duration
}

// NewActionDispatcher creates the production action dispatcher
func NewActionDispatcher(producer *kafka.Producer, logger logging.Logger, defaultTimeout time.Duration) *ActionDispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &ActionDispatcher{
		producer:       producer,
		client:         &http.Client{},
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// SendEmail publishes an email delivery command
func (d *ActionDispatcher) SendEmail(ctx context.Context, msg Message) error {
	return d.publish(ctx, msg, "email")
}

// SendSMS publishes an SMS delivery command
func (d *ActionDispatcher) SendSMS(ctx context.Context, msg Message) error {
	return d.publish(ctx, msg, "sms")
}

func (d *ActionDispatcher) publish(ctx context.Context, msg Message, channel string) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.ActionDispatcher.publish")
	defer span.End()

	// No deliverable address is a permanent failure: retrying cannot fix it
	if msg.Recipient == "" {
		return Permanent(fmt.Errorf("contact %s has no %s recipient", msg.ContactID, channel))
	}
	if msg.TemplateID == "" {
		return Permanent(fmt.Errorf("step %s has no template", msg.StepID))
	}

	cmd := &kafka.DeliveryCommand{
		TenantID:    msg.TenantID,
		ExecutionID: msg.ExecutionID,
		StepID:      msg.StepID,
		ContactID:   msg.ContactID,
		Channel:     channel,
		Recipient:   msg.Recipient,
		TemplateID:  msg.TemplateID,
		Subject:     msg.Subject,
	}

	if err := d.producer.PublishDeliveryCommand(ctx, cmd); err != nil {
		return Transient(err)
	}
	return nil
}

// CallWebhook performs the HTTP call with a bounded timeout. Timeouts and 5xx
// responses are transient; an unusable descriptor or a 4xx (other than 408 and
// 429) is permanent.
func (d *ActionDispatcher) CallWebhook(ctx context.Context, req WebhookRequest) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.ActionDispatcher.CallWebhook")
	defer span.End()

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := d.defaultTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Permanent(fmt.Errorf("invalid webhook descriptor: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"url":    req.URL,
			"status": resp.StatusCode,
		}).Warn("Webhook returned non-2xx status")

		err := fmt.Errorf("webhook %s returned status %d", req.URL, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
		return Transient(err)
	}

	return nil
}

var _ Dispatcher = (*ActionDispatcher)(nil)
