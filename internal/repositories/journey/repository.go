// Package journey persists journey definitions and their ordered steps
package journey

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/vine/pkg/database"
	journeys "github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Repository handles journey definition persistence
type Repository struct {
	db     database.DB
	logger logging.Logger
}

// NewRepository creates a new journey repository
func NewRepository(db database.DB, logger logging.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const journeyColumns = `id, tenant_id, name, status, allow_reentry, created_at, updated_at`
const stepColumns = `id, tenant_id, journey_id, ordinal, kind, config, guard, created_at, updated_at`

// Create inserts a journey and its steps in one transaction
func (r *Repository) Create(ctx context.Context, def *models.JourneyDefinition) error {
	ctx, span := tracing.StartSpan(ctx, "journey.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"journey_id": def.ID,
	})

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create journey")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO journeys (id, tenant_id, name, status, allow_reentry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, def.ID, def.TenantID, def.Name, def.Status, def.AllowReentry, def.CreatedAt, def.UpdatedAt); err != nil {
		log.WithError(err).Error("Failed to insert journey")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create journey")
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO journey_steps (id, tenant_id, journey_id, ordinal, kind, config, guard, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, step.ID, step.TenantID, step.JourneyID, step.Ordinal, step.Kind, step.Config, step.Guard, step.CreatedAt, step.UpdatedAt); err != nil {
			log.WithError(err).WithFields(map[string]any{"ordinal": step.Ordinal}).Error("Failed to insert journey step")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create journey")
		}
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit journey")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create journey")
	}
	return nil
}

// Update replaces a journey's row and its full step list in one transaction.
// Callers enforce the draft-only rule before getting here.
func (r *Repository) Update(ctx context.Context, def *models.JourneyDefinition) error {
	ctx, span := tracing.StartSpan(ctx, "journey.Repository.Update")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Update",
		"journey_id": def.ID,
	})

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update journey")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE journeys
		SET name = $1, allow_reentry = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5
	`, def.Name, def.AllowReentry, def.UpdatedAt, def.ID, def.TenantID)
	if err != nil {
		log.WithError(err).Error("Failed to update journey")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update journey")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return journeys.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM journey_steps WHERE journey_id = $1 AND tenant_id = $2
	`, def.ID, def.TenantID); err != nil {
		log.WithError(err).Error("Failed to clear journey steps")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update journey")
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO journey_steps (id, tenant_id, journey_id, ordinal, kind, config, guard, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, step.ID, step.TenantID, step.JourneyID, step.Ordinal, step.Kind, step.Config, step.Guard, step.CreatedAt, step.UpdatedAt); err != nil {
			log.WithError(err).WithFields(map[string]any{"ordinal": step.Ordinal}).Error("Failed to insert journey step")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update journey")
		}
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit journey update")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update journey")
	}
	return nil
}

// GetByID retrieves a journey with its steps ordered by ordinal
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*models.JourneyDefinition, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(journeyColumns)
	sb.From("journeys")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var def models.JourneyDefinition
	if err := r.db.GetContext(ctx, &def, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, journeys.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get journey")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get journey")
	}

	steps, err := r.getSteps(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	def.Steps = steps
	return &def, nil
}

func (r *Repository) getSteps(ctx context.Context, tenantID, journeyID string) ([]models.JourneyStepDefinition, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stepColumns)
	sb.From("journey_steps")
	sb.Where(
		sb.Equal("journey_id", journeyID),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("ordinal ASC")

	query, args := sb.Build()
	var steps []models.JourneyStepDefinition
	if err := r.db.SelectContext(ctx, &steps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get journey steps")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get journey steps")
	}
	return steps, nil
}

// List pages through a tenant's journeys, newest first, steps not loaded
func (r *Repository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.JourneyDefinition, int, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(journeyColumns)
	sb.From("journeys")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var items []models.JourneyDefinition
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list journeys")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list journeys")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("journeys")
	cb.Where(cb.Equal("tenant_id", tenantID))

	query, args = cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count journeys")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list journeys")
	}

	return items, total, nil
}

// SetStatus updates a journey's activation status
func (r *Repository) SetStatus(ctx context.Context, tenantID, id string, status models.JourneyStatus) error {
	ctx, span := tracing.StartSpan(ctx, "journey.Repository.SetStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("journeys")
	sb.Set(
		sb.Assign("status", status),
		"updated_at = NOW()",
	)
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set journey status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set journey status")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return journeys.ErrNotFound
	}
	return nil
}

var _ journeys.JourneyStore = (*Repository)(nil)
