// Package contact is the Postgres-backed subject repository: contact
// snapshots for condition evaluation and the CRM mutations journey steps
// apply. Every dedup-keyed mutation is a no-op on repeat.
package contact

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/subject"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Repository handles contact reads and CRM mutations
type Repository struct {
	db     database.DB
	logger logging.Logger
}

// NewRepository creates a new contact repository
func NewRepository(db database.DB, logger logging.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type contactRow struct {
	ID         string          `db:"id"`
	TenantID   string          `db:"tenant_id"`
	Email      string          `db:"email"`
	Phone      string          `db:"phone"`
	Attributes json.RawMessage `db:"attributes"`
	Tags       pq.StringArray  `db:"tags"`
	LeadScore  float64         `db:"lead_score"`
}

type eventRow struct {
	Name       string    `db:"name"`
	OccurredAt time.Time `db:"occurred_at"`
}

// GetSnapshot reads a contact and its last event occurrences as one
// point-in-time view
func (r *Repository) GetSnapshot(ctx context.Context, tenantID, contactID string) (*subject.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.GetSnapshot")
	defer span.End()

	var row contactRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, COALESCE(email, '') AS email, COALESCE(phone, '') AS phone,
		       attributes, tags, lead_score
		FROM contacts
		WHERE id = $1 AND tenant_id = $2
	`, contactID, tenantID)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "contact %s not found", contactID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact")
	}

	var events []eventRow
	if err := r.db.SelectContext(ctx, &events, `
		SELECT name, MAX(occurred_at) AS occurred_at
		FROM contact_events
		WHERE contact_id = $1 AND tenant_id = $2
		GROUP BY name
	`, contactID, tenantID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get contact events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact events")
	}

	snap := &subject.Snapshot{
		ContactID:  row.ID,
		TenantID:   row.TenantID,
		Email:      row.Email,
		Phone:      row.Phone,
		Attributes: map[string]any{},
		Tags:       []string(row.Tags),
		LeadScore:  row.LeadScore,
		Events:     make(map[string]time.Time, len(events)),
		TakenAt:    time.Now().UTC(),
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &snap.Attributes); err != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("Contact attributes are not valid JSON")
		}
	}
	for _, e := range events {
		snap.Events[e.Name] = e.OccurredAt
	}

	return snap, nil
}

// CreateTask creates a task unless one with the same dedup key exists
func (r *Repository) CreateTask(ctx context.Context, tenantID string, req subject.CreateTaskRequest) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.CreateTask")
	defer span.End()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, contact_id, title, description, due_at, dedup_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (tenant_id, dedup_key) DO NOTHING
	`, uuid.New().String(), tenantID, req.ContactID, req.Title, req.Description, req.DueAt, req.DedupKey.String(), now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create task")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create task")
	}
	return nil
}

// CreateDeal creates a deal unless one with the same dedup key exists
func (r *Repository) CreateDeal(ctx context.Context, tenantID string, req subject.CreateDealRequest) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.CreateDeal")
	defer span.End()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deals (id, tenant_id, contact_id, name, stage, value, dedup_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (tenant_id, dedup_key) DO NOTHING
	`, uuid.New().String(), tenantID, req.ContactID, req.Name, req.Stage, req.Value, req.DedupKey.String(), now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create deal")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create deal")
	}
	return nil
}

// UpdateDeal updates the contact's most recent deal. Applied at most once per
// dedup key via the step effects ledger.
func (r *Repository) UpdateDeal(ctx context.Context, tenantID string, req subject.UpdateDealRequest) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.UpdateDeal")
	defer span.End()

	applied, err := r.recordEffect(ctx, tenantID, req.DedupKey)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE deals
		SET stage = COALESCE($1, stage), value = COALESCE($2, value), updated_at = NOW()
		WHERE id = (
			SELECT id FROM deals
			WHERE tenant_id = $3 AND contact_id = $4
			ORDER BY created_at DESC
			LIMIT 1
		)
	`, req.Stage, req.Value, tenantID, req.ContactID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update deal")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update deal")
	}
	return nil
}

// UpdateContact merges attributes into the contact's attribute document
func (r *Repository) UpdateContact(ctx context.Context, tenantID, contactID string, attributes map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.UpdateContact")
	defer span.End()

	patch, err := json.Marshal(attributes)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "attributes are not serializable")
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET attributes = COALESCE(attributes, '{}'::jsonb) || $1::jsonb, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`, patch, contactID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update contact attributes")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact")
	}
	return r.requireContact(res, contactID)
}

// AddTag adds a tag; adding an existing tag is a no-op
func (r *Repository) AddTag(ctx context.Context, tenantID, contactID, tag string) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.AddTag")
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET tags = ARRAY(SELECT DISTINCT unnest(tags || $1::text)), updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`, tag, contactID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add tag")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add tag")
	}
	return r.requireContact(res, contactID)
}

// RemoveTag removes a tag; removing a missing tag is a no-op
func (r *Repository) RemoveTag(ctx context.Context, tenantID, contactID, tag string) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.RemoveTag")
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET tags = array_remove(tags, $1), updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`, tag, contactID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to remove tag")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to remove tag")
	}
	return r.requireContact(res, contactID)
}

// UpdateLeadScore applies a score delta at most once per dedup key
func (r *Repository) UpdateLeadScore(ctx context.Context, tenantID, contactID string, delta float64, key subject.DedupKey) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.UpdateLeadScore")
	defer span.End()

	applied, err := r.recordEffect(ctx, tenantID, key)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET lead_score = lead_score + $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`, delta, contactID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update lead score")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead score")
	}
	return r.requireContact(res, contactID)
}

// recordEffect inserts the dedup key into the step effects ledger. False
// means the effect was already applied.
func (r *Repository) recordEffect(ctx context.Context, tenantID string, key subject.DedupKey) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO step_effects (tenant_id, dedup_key, applied_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id, dedup_key) DO NOTHING
	`, tenantID, key.String())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to record step effect")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record step effect")
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (r *Repository) requireContact(res interface{ RowsAffected() (int64, error) }, contactID string) error {
	if rows, _ := res.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "contact %s not found", contactID)
	}
	return nil
}

var _ subject.Repository = (*Repository)(nil)
