package journey

import (
	"context"
	"errors"
	"time"

	"github.com/Ramsey-B/vine/pkg/models"
)

// Store errors shared by the Postgres repositories and the in-memory test stores
var (
	// ErrNotFound means the requested row does not exist for the tenant
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRunning means an active execution already exists for the
	// (journey, contact) pair and the journey disallows reentry
	ErrAlreadyRunning = errors.New("an active execution already exists for this journey and contact")
	// ErrClaimConflict means another worker holds the execution's lease;
	// the execution is skipped this tick and retried next sweep
	ErrClaimConflict = errors.New("execution is claimed by another worker")
	// ErrStaleVersion means the execution changed since it was read
	// (typically an operator cancel racing a worker's persist)
	ErrStaleVersion = errors.New("execution version is stale")
)

// JourneyStore persists journey definitions and their ordered steps
type JourneyStore interface {
	Create(ctx context.Context, def *models.JourneyDefinition) error
	Update(ctx context.Context, def *models.JourneyDefinition) error
	GetByID(ctx context.Context, tenantID, id string) (*models.JourneyDefinition, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.JourneyDefinition, int, error)
	SetStatus(ctx context.Context, tenantID, id string, status models.JourneyStatus) error
}

// ExecutionStore is the durable per-(journey, contact) execution state store.
// Claim provides mutual exclusion: no two workers hold the same execution at
// once, and a lease abandoned by a crashed worker is reclaimable after it
// expires.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.JourneyExecution) error
	GetByID(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error)
	List(ctx context.Context, tenantID string, filter models.ExecutionFilter) ([]models.JourneyExecution, int, error)

	// FindDue returns running executions whose wake time has elapsed (or is
	// null), oldest due first, bounded by limit.
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.JourneyExecution, error)
	// Claim takes the exclusive lease on a running execution. Returns
	// ErrClaimConflict when another worker holds an unexpired lease, or when
	// the execution is no longer running.
	Claim(ctx context.Context, executionID, workerID string, leaseUntil time.Time) (*models.JourneyExecution, error)
	// Persist writes the execution back under an optimistic version check and
	// releases the lease. Returns ErrStaleVersion if the row changed.
	Persist(ctx context.Context, exec *models.JourneyExecution) error

	// Operator transitions. Each bumps the version so a racing worker's
	// persist loses.
	Cancel(ctx context.Context, tenantID, id string, now time.Time) error
	Pause(ctx context.Context, tenantID, id string) error
	Resume(ctx context.Context, tenantID, id string) error

	// Maintenance
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// LifecycleEmitter publishes execution lifecycle events. Emission failures
// are logged by the implementation and never block state transitions.
type LifecycleEmitter interface {
	EmitExecutionStarted(ctx context.Context, exec *models.JourneyExecution) error
	EmitExecutionCompleted(ctx context.Context, exec *models.JourneyExecution) error
	EmitExecutionFailed(ctx context.Context, exec *models.JourneyExecution) error
	EmitExecutionCancelled(ctx context.Context, exec *models.JourneyExecution) error
	EmitStepSkipped(ctx context.Context, exec *models.JourneyExecution, skip *models.StepSkip) error
}

// Clock abstracts wall-clock time so scheduling is deterministic in tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time { return time.Now().UTC() }
