// Package subject defines the contact snapshot the engine evaluates against
// and the repository contract for contact mutations. The engine only ever
// mutates contacts through this interface; every mutating call carries a
// dedup key so re-execution of a step cannot duplicate its side effect.
package subject

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is a read-only view of a contact's state taken at evaluation time.
// Condition evaluation never re-reads live state mid-evaluation so results
// stay deterministic for audit and replay.
type Snapshot struct {
	ContactID  string               `json:"contact_id"`
	TenantID   string               `json:"tenant_id"`
	Email      string               `json:"email,omitempty"`
	Phone      string               `json:"phone,omitempty"`
	Attributes map[string]any       `json:"attributes"`
	Tags       []string             `json:"tags"`
	LeadScore  float64              `json:"lead_score"`
	Events     map[string]time.Time `json:"events,omitempty"` // last occurrence per event name
	TakenAt    time.Time            `json:"taken_at"`
}

// HasTag reports whether the snapshot carries the given tag
func (s *Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Attribute returns the named attribute, if present
func (s *Snapshot) Attribute(name string) (any, bool) {
	if s.Attributes == nil {
		return nil, false
	}
	v, ok := s.Attributes[name]
	return v, ok
}

// DedupKey is the natural key recorded on entities created by a step so
// re-execution is idempotent.
type DedupKey struct {
	ExecutionID string
	StepID      string
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s:%s", k.ExecutionID, k.StepID)
}

// CreateTaskRequest creates a task for a contact
type CreateTaskRequest struct {
	ContactID   string
	Title       string
	Description string
	DueAt       *time.Time
	DedupKey    DedupKey
}

// CreateDealRequest creates a deal for a contact
type CreateDealRequest struct {
	ContactID string
	Name      string
	Stage     string
	Value     float64
	DedupKey  DedupKey
}

// UpdateDealRequest updates the most recent open deal for a contact
type UpdateDealRequest struct {
	ContactID string
	Stage     *string
	Value     *float64
	DedupKey  DedupKey
}

// Repository is the contact store the engine mutates through. Implementations
// must honor the dedup key: a repeated call with the same key is a no-op.
type Repository interface {
	GetSnapshot(ctx context.Context, tenantID, contactID string) (*Snapshot, error)
	CreateTask(ctx context.Context, tenantID string, req CreateTaskRequest) error
	CreateDeal(ctx context.Context, tenantID string, req CreateDealRequest) error
	UpdateDeal(ctx context.Context, tenantID string, req UpdateDealRequest) error
	UpdateContact(ctx context.Context, tenantID, contactID string, attributes map[string]any) error
	AddTag(ctx context.Context, tenantID, contactID, tag string) error
	RemoveTag(ctx context.Context, tenantID, contactID, tag string) error
	// UpdateLeadScore applies a delta, which is not naturally idempotent, so
	// it carries the dedup key like the create operations do.
	UpdateLeadScore(ctx context.Context, tenantID, contactID string, delta float64, key DedupKey) error
}
