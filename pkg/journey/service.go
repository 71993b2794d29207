package journey

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Service is the journey authoring and execution control surface. Step
// advancement itself belongs to the scheduler; the service only creates
// executions and applies operator transitions.
type Service struct {
	journeys   JourneyStore
	executions ExecutionStore
	subjects   subject.Repository
	evaluator  *condition.Evaluator
	emitter    LifecycleEmitter
	logger     logging.Logger
	clock      Clock
}

// NewService creates the journey service
func NewService(
	journeys JourneyStore,
	executions ExecutionStore,
	subjects subject.Repository,
	evaluator *condition.Evaluator,
	emitter LifecycleEmitter,
	logger logging.Logger,
	clock Clock,
) *Service {
	return &Service{
		journeys:   journeys,
		executions: executions,
		subjects:   subjects,
		evaluator:  evaluator,
		emitter:    emitter,
		logger:     logger,
		clock:      clock,
	}
}

// CreateJourney validates and persists a new draft journey
func (s *Service) CreateJourney(ctx context.Context, tenantID string, req models.CreateJourneyRequest) (*models.JourneyDefinition, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.CreateJourney")
	defer span.End()

	now := s.clock.Now()
	def := &models.JourneyDefinition{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Name:         req.Name,
		Status:       models.JourneyStatusDraft,
		AllowReentry: req.AllowReentry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, sr := range req.Steps {
		def.Steps = append(def.Steps, models.JourneyStepDefinition{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			JourneyID: def.ID,
			Ordinal:   sr.Ordinal,
			Kind:      sr.Kind,
			Config:    sr.Config,
			Guard:     sr.Guard,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := ValidateDefinition(def, s.evaluator); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.journeys.Create(ctx, def); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to create journey")
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"journey_id": def.ID,
		"steps":      len(def.Steps),
	}).Info("Created journey")
	return def, nil
}

// UpdateJourney replaces a draft journey's name and steps. Non-draft journeys
// reject edits so live executions always see a stable definition.
func (s *Service) UpdateJourney(ctx context.Context, tenantID, id string, req models.UpdateJourneyRequest) (*models.JourneyDefinition, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.UpdateJourney")
	defer span.End()

	def, err := s.GetJourney(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if def.Status != models.JourneyStatusDraft {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "journey %s is %s: only draft journeys can be edited", id, def.Status)
	}

	now := s.clock.Now()
	if req.Name != nil {
		def.Name = *req.Name
	}
	if req.AllowReentry != nil {
		def.AllowReentry = *req.AllowReentry
	}
	if req.Steps != nil {
		def.Steps = def.Steps[:0]
		for _, sr := range req.Steps {
			def.Steps = append(def.Steps, models.JourneyStepDefinition{
				ID:        uuid.New().String(),
				TenantID:  tenantID,
				JourneyID: def.ID,
				Ordinal:   sr.Ordinal,
				Kind:      sr.Kind,
				Config:    sr.Config,
				Guard:     sr.Guard,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	def.UpdatedAt = now

	if err := ValidateDefinition(def, s.evaluator); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.journeys.Update(ctx, def); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to update journey")
		return nil, err
	}
	return def, nil
}

// SetJourneyStatus transitions a journey between draft, active, paused and
// archived. Pausing a journey stops new executions from starting; existing
// executions keep running.
func (s *Service) SetJourneyStatus(ctx context.Context, tenantID, id string, status models.JourneyStatus) (*models.JourneyDefinition, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.SetJourneyStatus")
	defer span.End()

	if !status.IsValid() {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown journey status %q", status)
	}

	def, err := s.GetJourney(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if status == models.JourneyStatusActive && len(def.Steps) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "journey %s has no steps and cannot be activated", id)
	}

	if err := s.journeys.SetStatus(ctx, tenantID, id, status); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to set journey status")
		return nil, err
	}
	def.Status = status

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"journey_id": id,
		"status":     status,
	}).Info("Journey status changed")
	return def, nil
}

// GetJourney retrieves a journey definition with its steps
func (s *Service) GetJourney(ctx context.Context, tenantID, id string) (*models.JourneyDefinition, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.GetJourney")
	defer span.End()

	def, err := s.journeys.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "journey %s not found", id)
		}
		return nil, err
	}
	return def, nil
}

// ListJourneys pages through a tenant's journey definitions
func (s *Service) ListJourneys(ctx context.Context, tenantID string, limit, offset int) (*models.JourneyListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.ListJourneys")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.journeys.List(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.JourneyListResponse{
		Items:      items,
		TotalCount: total,
		Page:       offset/limit + 1,
		PageSize:   limit,
	}, nil
}

// StartJourney enrolls a contact in an active journey. Unless the journey
// allows reentry, a contact with an active (running or paused) execution of
// the same journey cannot be enrolled again.
func (s *Service) StartJourney(ctx context.Context, tenantID, journeyID, contactID string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.StartJourney")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"journey_id": journeyID,
		"contact_id": contactID,
	})

	def, err := s.GetJourney(ctx, tenantID, journeyID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.JourneyStatusActive {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "journey %s is %s, not active", journeyID, def.Status)
	}

	first := def.FirstStep()
	if first == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "journey %s has no steps", journeyID)
	}

	// Verify the contact exists before creating state for it
	if _, err := s.subjects.GetSnapshot(ctx, tenantID, contactID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	exec := &models.JourneyExecution{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		JourneyID:     journeyID,
		ContactID:     contactID,
		Status:        models.ExecutionStatusRunning,
		CurrentStepID: &first.ID,
		Completed:     models.StepIDSet{},
		Version:       1,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.executions.Create(ctx, exec); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			if def.AllowReentry {
				// Reentry allowed: the uniqueness guard does not apply, the
				// store should not have raised this.
				log.WithError(err).Error("Reentry guard fired on a reentrant journey")
			}
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "contact %s already has an active execution of journey %s", contactID, journeyID)
		}
		log.WithError(err).Error("Failed to create execution")
		return nil, err
	}

	_ = s.emitter.EmitExecutionStarted(ctx, exec)
	log.WithFields(map[string]any{"execution_id": exec.ID}).Info("Started journey execution")
	return exec, nil
}

// GetExecution retrieves one execution
func (s *Service) GetExecution(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.GetExecution")
	defer span.End()

	exec, err := s.executions.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "execution %s not found", id)
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions pages through executions matching the filter
func (s *Service) ListExecutions(ctx context.Context, tenantID string, filter models.ExecutionFilter) (*models.ExecutionListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.ListExecutions")
	defer span.End()

	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, total, err := s.executions.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	return &models.ExecutionListResponse{
		Items:      items,
		TotalCount: total,
		Page:       filter.Offset/filter.Limit + 1,
		PageSize:   filter.Limit,
	}, nil
}

// CancelExecution cancels a running or paused execution. The store bumps the
// version so a worker mid-step loses its persist and the cancellation wins.
func (s *Service) CancelExecution(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.CancelExecution")
	defer span.End()

	if err := s.executions.Cancel(ctx, tenantID, id, s.clock.Now()); err != nil {
		return nil, s.mapTransitionError(err, id, "cancel")
	}

	exec, err := s.GetExecution(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	_ = s.emitter.EmitExecutionCancelled(ctx, exec)
	s.logger.WithContext(ctx).WithFields(map[string]any{"execution_id": id}).Info("Cancelled execution")
	return exec, nil
}

// PauseExecution pauses a running execution; the scheduler skips paused rows
func (s *Service) PauseExecution(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.PauseExecution")
	defer span.End()

	if err := s.executions.Pause(ctx, tenantID, id); err != nil {
		return nil, s.mapTransitionError(err, id, "pause")
	}
	return s.GetExecution(ctx, tenantID, id)
}

// ResumeExecution resumes a paused execution. Elapsed wait time counts while
// paused, so a wait that expired during the pause advances on the next sweep.
func (s *Service) ResumeExecution(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.ResumeExecution")
	defer span.End()

	if err := s.executions.Resume(ctx, tenantID, id); err != nil {
		return nil, s.mapTransitionError(err, id, "resume")
	}
	return s.GetExecution(ctx, tenantID, id)
}

// RetryFailed moves a failed execution back to running at its current step
// with a fresh retry budget
func (s *Service) RetryFailed(ctx context.Context, tenantID, id string) (*models.JourneyExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.RetryFailed")
	defer span.End()

	exec, err := s.GetExecution(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionStatusFailed {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "execution %s is %s, not failed", id, exec.Status)
	}

	exec.Status = models.ExecutionStatusRunning
	exec.Vars.RetryCount = 0
	exec.NextWakeAt = nil
	exec.CompletedAt = nil
	if err := s.executions.Persist(ctx, exec); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "execution %s changed, retry the request", id)
		}
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"execution_id": id}).Info("Retrying failed execution")
	return exec, nil
}

// Progress builds the step-by-step progress projection for one execution
func (s *Service) Progress(ctx context.Context, tenantID, executionID string) (*models.ExecutionProgress, error) {
	ctx, span := tracing.StartSpan(ctx, "journey.Service.Progress")
	defer span.End()

	exec, err := s.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	def, err := s.GetJourney(ctx, tenantID, exec.JourneyID)
	if err != nil {
		return nil, err
	}
	return BuildProgress(def, exec, s.clock.Now()), nil
}

func (s *Service) mapTransitionError(err error, id, action string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httperror.NewHTTPErrorf(http.StatusNotFound, "execution %s not found", id)
	case errors.Is(err, ErrStaleVersion), errors.Is(err, ErrClaimConflict):
		return httperror.NewHTTPErrorf(http.StatusConflict, "cannot %s execution %s in its current state", action, id)
	}
	return err
}
