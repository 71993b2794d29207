package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerMessage asks vine to start a journey for a contact. Published by
// upstream rule evaluators (and by operators via tooling) to the trigger topic.
type TriggerMessage struct {
	TenantID  string    `json:"tenant_id"`
	JourneyID string    `json:"journey_id"`
	ContactID string    `json:"contact_id"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks the trigger carries the required identity fields
func (m *TriggerMessage) Validate() error {
	if m.TenantID == "" || m.JourneyID == "" || m.ContactID == "" {
		return fmt.Errorf("trigger message missing required fields (tenant_id, journey_id, contact_id)")
	}
	return nil
}

// ExecutionEvent is a journey execution lifecycle event
type ExecutionEvent struct {
	EventType   string          `json:"event_type"` // journey.execution.started|completed|failed|cancelled
	TenantID    string          `json:"tenant_id"`
	ExecutionID string          `json:"execution_id"`
	JourneyID   string          `json:"journey_id"`
	ContactID   string          `json:"contact_id"`
	Status      string          `json:"status"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// DeliveryCommand is an outbound email/SMS delivery request consumed by the
// delivery service. Rendering and provider mechanics happen downstream.
type DeliveryCommand struct {
	TenantID    string    `json:"tenant_id"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id"`
	ContactID   string    `json:"contact_id"`
	Channel     string    `json:"channel"` // email | sms
	Recipient   string    `json:"recipient"`
	TemplateID  string    `json:"template_id"`
	Subject     string    `json:"subject,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IncomingMessage is a fetched Kafka message plus its parsed payload
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Trigger *TriggerMessage
}

// ParseTrigger parses the message value as a TriggerMessage
func (m *IncomingMessage) ParseTrigger() error {
	var trigger TriggerMessage
	if err := json.Unmarshal(m.Value, &trigger); err != nil {
		return fmt.Errorf("failed to parse trigger message: %w", err)
	}
	if err := trigger.Validate(); err != nil {
		return err
	}
	m.Trigger = &trigger
	return nil
}
