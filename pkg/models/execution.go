package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a journey execution
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further advancement
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// IsValid reports whether the status is a known execution status
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// StepError records the most recent step failure for an execution
type StepError struct {
	StepID   string    `json:"step_id"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// StepSkip records a messaging step skipped on permanent delivery failure.
// Skips are a deliberate policy (advance past undeliverable contacts rather
// than wedging the cohort) and are kept queryable for audit.
type StepSkip struct {
	StepID string    `json:"step_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ExecutionVars is the execution-scoped variable record. The keys are fixed
// and documented here rather than a free-form map so invariants stay checkable.
type ExecutionVars struct {
	// CurrentStepStartedAt is stamped on the first visit to a wait step and
	// cleared whenever the step pointer moves.
	CurrentStepStartedAt *time.Time `json:"current_step_started_at,omitempty"`
	// RetryCount tracks bounded retries of the current messaging/webhook step.
	RetryCount int `json:"retry_count,omitempty"`
	// LastError is the most recent step failure.
	LastError *StepError `json:"last_error,omitempty"`
	// LastSkip is the most recent permanent-failure skip.
	LastSkip *StepSkip `json:"last_skip,omitempty"`
	// LastBranch records the step id the most recent condition step jumped to.
	LastBranch *string `json:"last_branch,omitempty"`
}

// Value implements driver.Valuer so vars persist as JSONB
func (v ExecutionVars) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// Scan implements sql.Scanner
func (v *ExecutionVars) Scan(src any) error {
	switch data := src.(type) {
	case nil:
		*v = ExecutionVars{}
		return nil
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	}
	return fmt.Errorf("cannot scan %T into ExecutionVars", src)
}

// StepIDSet is the set of completed step ids, persisted as a JSONB array.
// A step id appears at most once.
type StepIDSet []string

// Contains reports whether the set holds the given step id
func (s StepIDSet) Contains(stepID string) bool {
	for _, id := range s {
		if id == stepID {
			return true
		}
	}
	return false
}

// Add returns the set with the step id added; adding an existing id is a no-op
func (s StepIDSet) Add(stepID string) StepIDSet {
	if s.Contains(stepID) {
		return s
	}
	return append(s, stepID)
}

// Value implements driver.Valuer
func (s StepIDSet) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(s))
}

// Scan implements sql.Scanner
func (s *StepIDSet) Scan(src any) error {
	switch data := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(data, (*[]string)(s))
	case string:
		return json.Unmarshal([]byte(data), (*[]string)(s))
	}
	return fmt.Errorf("cannot scan %T into StepIDSet", src)
}

// JourneyExecution is the live, per-contact instance of a journey's progress.
// Mutated exclusively by the advancer under a per-execution claim.
// Invariant: status completed or cancelled implies CurrentStepID and
// NextWakeAt are both null.
type JourneyExecution struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	JourneyID     string          `json:"journey_id" db:"journey_id"`
	ContactID     string          `json:"contact_id" db:"contact_id"`
	Status        ExecutionStatus `json:"status" db:"status"`
	CurrentStepID *string         `json:"current_step_id,omitempty" db:"current_step_id"`
	Completed     StepIDSet       `json:"completed_step_ids" db:"completed_step_ids"`
	Vars          ExecutionVars   `json:"vars" db:"vars"`
	NextWakeAt    *time.Time      `json:"next_wake_at,omitempty" db:"next_wake_at"`
	Version       int             `json:"version" db:"version"`
	ClaimedBy     *string         `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedUntil  *time.Time      `json:"claimed_until,omitempty" db:"claimed_until"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ClearStepVars resets the per-step variables when the step pointer moves
func (e *JourneyExecution) ClearStepVars() {
	e.Vars.CurrentStepStartedAt = nil
	e.Vars.RetryCount = 0
}

// ExecutionFilter narrows execution list queries
type ExecutionFilter struct {
	JourneyID string
	ContactID string
	Status    ExecutionStatus
	Limit     int
	Offset    int
}

// ExecutionListResponse is the response for listing executions
type ExecutionListResponse struct {
	Items      []JourneyExecution `json:"items"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

// StepProgressState is the display state of one step within an execution
type StepProgressState string

const (
	StepProgressCompleted  StepProgressState = "completed"
	StepProgressInProgress StepProgressState = "in_progress"
	StepProgressPending    StepProgressState = "pending"
)

// StepProgress is the read-only, per-step projection for UIs. WaitPercent is
// display-only and never gates advancement.
type StepProgress struct {
	StepID      string            `json:"step_id"`
	Ordinal     int               `json:"ordinal"`
	Kind        StepKind          `json:"kind"`
	State       StepProgressState `json:"state"`
	WaitPercent *float64          `json:"wait_percent,omitempty"`
}

// ExecutionProgress is the step-by-step progress projection of one execution
type ExecutionProgress struct {
	ExecutionID string          `json:"execution_id"`
	JourneyID   string          `json:"journey_id"`
	ContactID   string          `json:"contact_id"`
	Status      ExecutionStatus `json:"status"`
	Steps       []StepProgress  `json:"steps"`
	LastError   *StepError      `json:"last_error,omitempty"`
	LastSkip    *StepSkip       `json:"last_skip,omitempty"`
}
