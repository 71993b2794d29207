// Package execution persists journey execution state. The claim and persist
// queries implement the worker exclusivity protocol: a claim takes a lease
// and bumps the version, a persist only lands if the version is unchanged.
package execution

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Repository handles journey execution persistence
type Repository struct {
	db     database.DB
	logger logging.Logger
}

// NewRepository creates a new execution repository
func NewRepository(db database.DB, logger logging.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const allColumns = `id, tenant_id, journey_id, contact_id, status, current_step_id,
	completed_step_ids, vars, next_wake_at, version, claimed_by, claimed_until,
	started_at, completed_at, created_at, updated_at`

// Create inserts a new execution. A unique violation on the active-execution
// index means the contact is already enrolled.
func (r *Repository) Create(ctx context.Context, exec *models.JourneyExecution) error {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":       "Create",
		"execution_id": exec.ID,
		"journey_id":   exec.JourneyID,
		"contact_id":   exec.ContactID,
	})

	query := `
		INSERT INTO journey_executions (
			id, tenant_id, journey_id, contact_id, status, current_step_id,
			completed_step_ids, vars, next_wake_at, version,
			started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	if _, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.TenantID, exec.JourneyID, exec.ContactID, exec.Status, exec.CurrentStepID,
		exec.Completed, exec.Vars, exec.NextWakeAt, exec.Version,
		exec.StartedAt, exec.CreatedAt, exec.UpdatedAt,
	); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return journey.ErrAlreadyRunning
		}
		log.WithError(err).Error("Failed to create execution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create execution")
	}

	return nil
}

// GetByID retrieves an execution
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From("journey_executions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var exec models.JourneyExecution
	if err := r.db.GetContext(ctx, &exec, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, journey.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get execution")
	}

	return &exec, nil
}

// List pages through executions matching the filter, newest first
func (r *Repository) List(ctx context.Context, tenantID string, filter models.ExecutionFilter) ([]models.JourneyExecution, int, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.List")
	defer span.End()

	where := func(sb *sqlbuilder.SelectBuilder) {
		conds := []string{sb.Equal("tenant_id", tenantID)}
		if filter.JourneyID != "" {
			conds = append(conds, sb.Equal("journey_id", filter.JourneyID))
		}
		if filter.ContactID != "" {
			conds = append(conds, sb.Equal("contact_id", filter.ContactID))
		}
		if filter.Status != "" {
			conds = append(conds, sb.Equal("status", filter.Status))
		}
		sb.Where(conds...)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From("journey_executions")
	where(sb)
	sb.OrderBy("created_at DESC")
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	var items []models.JourneyExecution
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list executions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list executions")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("journey_executions")
	where(cb)

	query, args = cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count executions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list executions")
	}

	return items, total, nil
}

// FindDue returns running executions whose wake time has elapsed or was never
// set, oldest due first. Rows under an unexpired lease are excluded so sweeps
// do not fight workers for claims they will lose.
func (r *Repository) FindDue(ctx context.Context, now time.Time, limit int) ([]models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.FindDue")
	defer span.End()

	query := `
		SELECT ` + allColumns + `
		FROM journey_executions
		WHERE status = 'running'
		  AND (next_wake_at IS NULL OR next_wake_at <= $1)
		  AND (claimed_until IS NULL OR claimed_until < $1)
		ORDER BY next_wake_at ASC NULLS FIRST
		LIMIT $2
	`

	var due []models.JourneyExecution
	if err := r.db.SelectContext(ctx, &due, query, now, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find due executions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find due executions")
	}

	return due, nil
}

// Claim takes the exclusive lease on a running execution and bumps the
// version. Zero rows updated means another worker holds the lease or the
// execution is no longer running.
func (r *Repository) Claim(ctx context.Context, executionID, workerID string, leaseUntil time.Time) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Claim")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET claimed_by = $1, claimed_until = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
		  AND status = 'running'
		  AND (claimed_until IS NULL OR claimed_until < NOW())
		RETURNING ` + allColumns

	var exec models.JourneyExecution
	if err := r.db.GetContext(ctx, &exec, query, workerID, leaseUntil, executionID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, journey.ErrClaimConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"execution_id": executionID,
		}).Error("Failed to claim execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim execution")
	}

	return &exec, nil
}

// Persist writes the execution back under the optimistic version check and
// releases the lease. Zero rows updated means the row changed underneath the
// caller, typically an operator cancel.
func (r *Repository) Persist(ctx context.Context, exec *models.JourneyExecution) error {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Persist")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET status = $1, current_step_id = $2, completed_step_ids = $3, vars = $4,
		    next_wake_at = $5, completed_at = $6,
		    claimed_by = NULL, claimed_until = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
	`

	res, err := r.db.ExecContext(ctx, query,
		exec.Status, exec.CurrentStepID, exec.Completed, exec.Vars,
		exec.NextWakeAt, exec.CompletedAt,
		exec.ID, exec.Version,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"execution_id": exec.ID,
		}).Error("Failed to persist execution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to persist execution")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return journey.ErrStaleVersion
	}

	exec.Version++
	return nil
}

// Cancel moves a running or paused execution to cancelled. The version bump
// makes any in-flight worker persist fail, so the cancellation always wins.
func (r *Repository) Cancel(ctx context.Context, tenantID, id string, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Cancel")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET status = 'cancelled', current_step_id = NULL, next_wake_at = NULL,
		    completed_at = $1, claimed_by = NULL, claimed_until = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND status IN ('running', 'paused')
	`

	return r.transition(ctx, id, query, now, id, tenantID)
}

// Pause moves a running execution to paused. Paused rows are invisible to
// FindDue, so the scheduler stops advancing them.
func (r *Repository) Pause(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Pause")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET status = 'paused', claimed_by = NULL, claimed_until = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'running'
	`

	return r.transition(ctx, id, query, id, tenantID)
}

// Resume moves a paused execution back to running and wakes it immediately
func (r *Repository) Resume(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.Resume")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET status = 'running', next_wake_at = NOW(),
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'paused'
	`

	return r.transition(ctx, id, query, id, tenantID)
}

func (r *Repository) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"execution_id": id,
		}).Error("Failed to transition execution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition execution")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return journey.ErrStaleVersion
	}
	return nil
}

// ReleaseExpiredLeases clears leases whose deadline passed so crashed
// workers' executions become claimable again
func (r *Repository) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.ReleaseExpiredLeases")
	defer span.End()

	query := `
		UPDATE journey_executions
		SET claimed_by = NULL, claimed_until = NULL, updated_at = NOW()
		WHERE claimed_until IS NOT NULL AND claimed_until < $1
	`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release expired leases")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to release expired leases")
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// PurgeTerminal deletes terminal executions completed before the cutoff
func (r *Repository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.Repository.PurgeTerminal")
	defer span.End()

	query := `
		DELETE FROM journey_executions
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to purge terminal executions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to purge terminal executions")
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

var _ journey.ExecutionStore = (*Repository)(nil)
