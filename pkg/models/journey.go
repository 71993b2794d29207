package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JourneyStatus is the activation state of a journey definition
type JourneyStatus string

const (
	JourneyStatusDraft    JourneyStatus = "draft"
	JourneyStatusActive   JourneyStatus = "active"
	JourneyStatusPaused   JourneyStatus = "paused"
	JourneyStatusArchived JourneyStatus = "archived"
)

// IsValid reports whether the status is a known journey status
func (s JourneyStatus) IsValid() bool {
	switch s {
	case JourneyStatusDraft, JourneyStatusActive, JourneyStatusPaused, JourneyStatusArchived:
		return true
	}
	return false
}

// StepKind is the closed set of journey step kinds
type StepKind string

const (
	StepKindSendEmail       StepKind = "send_email"
	StepKindSendSMS         StepKind = "send_sms"
	StepKindWait            StepKind = "wait"
	StepKindCreateTask      StepKind = "create_task"
	StepKindUpdateContact   StepKind = "update_contact"
	StepKindCreateDeal      StepKind = "create_deal"
	StepKindUpdateDeal      StepKind = "update_deal"
	StepKindAddTag          StepKind = "add_tag"
	StepKindRemoveTag       StepKind = "remove_tag"
	StepKindUpdateLeadScore StepKind = "update_lead_score"
	StepKindWebhook         StepKind = "webhook"
	StepKindCondition       StepKind = "condition"
	StepKindEnd             StepKind = "end"
)

// AllStepKinds lists every known step kind
var AllStepKinds = []StepKind{
	StepKindSendEmail, StepKindSendSMS, StepKindWait, StepKindCreateTask,
	StepKindUpdateContact, StepKindCreateDeal, StepKindUpdateDeal, StepKindAddTag,
	StepKindRemoveTag, StepKindUpdateLeadScore, StepKindWebhook, StepKindCondition, StepKindEnd,
}

// IsValid reports whether the kind is part of the closed step kind set
func (k StepKind) IsValid() bool {
	for _, known := range AllStepKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsMessaging reports whether the kind dispatches an outbound message.
// Messaging steps skip-and-advance on permanent delivery failure so a single
// bad contact cannot wedge a cohort.
func (k StepKind) IsMessaging() bool {
	return k == StepKindSendEmail || k == StepKindSendSMS || k == StepKindWebhook
}

// IsMutating reports whether the kind mutates the contact or related CRM
// entities. Mutating steps are subject to the once-per-(execution, step)
// idempotency check.
func (k StepKind) IsMutating() bool {
	switch k {
	case StepKindCreateTask, StepKindUpdateContact, StepKindCreateDeal, StepKindUpdateDeal,
		StepKindAddTag, StepKindRemoveTag, StepKindUpdateLeadScore:
		return true
	}
	return false
}

// JourneyDefinition is a reusable, ordered workflow applied to many contacts.
// Steps are append/edit-able only while the journey is in draft; activation
// status toggles are always allowed.
type JourneyDefinition struct {
	ID           string        `json:"id" db:"id"`
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	Name         string        `json:"name" db:"name"`
	Status       JourneyStatus `json:"status" db:"status"`
	AllowReentry bool          `json:"allow_reentry" db:"allow_reentry"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`

	Steps []JourneyStepDefinition `json:"steps,omitempty" db:"-"`
}

// StepAt returns the step with the given ordinal, or nil
func (j *JourneyDefinition) StepAt(ordinal int) *JourneyStepDefinition {
	for i := range j.Steps {
		if j.Steps[i].Ordinal == ordinal {
			return &j.Steps[i]
		}
	}
	return nil
}

// StepByID returns the step with the given id, or nil
func (j *JourneyDefinition) StepByID(id string) *JourneyStepDefinition {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			return &j.Steps[i]
		}
	}
	return nil
}

// FirstStep returns the step with the lowest ordinal, or nil for an empty journey
func (j *JourneyDefinition) FirstStep() *JourneyStepDefinition {
	var first *JourneyStepDefinition
	for i := range j.Steps {
		if first == nil || j.Steps[i].Ordinal < first.Ordinal {
			first = &j.Steps[i]
		}
	}
	return first
}

// NextStep returns the step following the given ordinal, or nil when the
// graph is exhausted
func (j *JourneyDefinition) NextStep(ordinal int) *JourneyStepDefinition {
	var next *JourneyStepDefinition
	for i := range j.Steps {
		if j.Steps[i].Ordinal > ordinal && (next == nil || j.Steps[i].Ordinal < next.Ordinal) {
			next = &j.Steps[i]
		}
	}
	return next
}

// JourneyStepDefinition is one unit of work within a journey.
// Ordinals are unique and contiguous within a journey; ties are broken by
// ordinal, never by insertion order.
type JourneyStepDefinition struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	JourneyID string          `json:"journey_id" db:"journey_id"`
	Ordinal   int             `json:"ordinal" db:"ordinal"`
	Kind      StepKind        `json:"kind" db:"kind"`
	Config    json.RawMessage `json:"config,omitempty" db:"config"`
	Guard     *ConditionExpr  `json:"guard,omitempty" db:"guard"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WaitConfig is the config payload for wait steps
type WaitConfig struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
}

// Duration returns the total wait duration
func (c WaitConfig) Duration() time.Duration {
	return time.Duration(c.Days)*24*time.Hour +
		time.Duration(c.Hours)*time.Hour +
		time.Duration(c.Minutes)*time.Minute
}

// MessageConfig is the config payload for send_email and send_sms steps.
// TemplateID references rendered content owned by the delivery service.
type MessageConfig struct {
	TemplateID string `json:"template_id"`
	Subject    string `json:"subject,omitempty"`
}

// WebhookConfig is the config payload for webhook steps
type WebhookConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// ConditionConfig is the config payload for condition steps. Branch targets
// reference step ordinals (step ids are assigned server-side); a nil target
// means "fall through to the next ordinal" for that boolean result.
type ConditionConfig struct {
	Expression  ConditionExpr `json:"expression"`
	TrueTarget  *int          `json:"true_target,omitempty"`
	FalseTarget *int          `json:"false_target,omitempty"`
}

// TaskConfig is the config payload for create_task steps
type TaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

// DealConfig is the config payload for create_deal steps
type DealConfig struct {
	Name  string  `json:"name"`
	Stage string  `json:"stage,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// DealUpdateConfig is the config payload for update_deal steps
type DealUpdateConfig struct {
	Stage *string  `json:"stage,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// ContactUpdateConfig is the config payload for update_contact steps
type ContactUpdateConfig struct {
	Attributes map[string]any `json:"attributes"`
}

// TagConfig is the config payload for add_tag and remove_tag steps
type TagConfig struct {
	Tag string `json:"tag"`
}

// LeadScoreConfig is the config payload for update_lead_score steps
type LeadScoreConfig struct {
	Delta float64 `json:"delta"`
}

// DecodeStepConfig unmarshals a step's config payload into dst
func DecodeStepConfig(step *JourneyStepDefinition, dst any) error {
	if len(step.Config) == 0 {
		return fmt.Errorf("step %s (%s) has no config", step.ID, step.Kind)
	}
	if err := json.Unmarshal(step.Config, dst); err != nil {
		return fmt.Errorf("step %s (%s) config: %w", step.ID, step.Kind, err)
	}
	return nil
}

// CreateJourneyRequest is the request for creating a journey definition
type CreateJourneyRequest struct {
	Name         string              `json:"name" validate:"required"`
	AllowReentry bool                `json:"allow_reentry"`
	Steps        []CreateStepRequest `json:"steps" validate:"omitempty,dive"`
}

// CreateStepRequest is one step within a create/update journey request
type CreateStepRequest struct {
	Ordinal int             `json:"ordinal" validate:"required,min=1"`
	Kind    StepKind        `json:"kind" validate:"required"`
	Config  json.RawMessage `json:"config,omitempty"`
	Guard   *ConditionExpr  `json:"guard,omitempty"`
}

// UpdateJourneyRequest is the request for updating a draft journey
type UpdateJourneyRequest struct {
	Name         *string             `json:"name,omitempty"`
	AllowReentry *bool               `json:"allow_reentry,omitempty"`
	Steps        []CreateStepRequest `json:"steps,omitempty" validate:"omitempty,dive"`
}

// JourneyListResponse is the response for listing journeys
type JourneyListResponse struct {
	Items      []JourneyDefinition `json:"items"`
	TotalCount int                 `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}
