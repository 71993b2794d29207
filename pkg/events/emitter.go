// Package events handles event emission for journey execution lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

var _ journey.LifecycleEmitter = (*Emitter)(nil)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles journey lifecycle event emission
type Emitter struct {
	producer *kafka.Producer
	logger   logging.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger logging.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitExecutionStarted emits a journey.execution.started event
func (e *Emitter) EmitExecutionStarted(ctx context.Context, exec *models.JourneyExecution) error {
	return e.emit(ctx, "journey.execution.started", exec, nil)
}

// EmitExecutionCompleted emits a journey.execution.completed event
func (e *Emitter) EmitExecutionCompleted(ctx context.Context, exec *models.JourneyExecution) error {
	return e.emit(ctx, "journey.execution.completed", exec, nil)
}

// EmitExecutionFailed emits a journey.execution.failed event with the
// recorded error context
func (e *Emitter) EmitExecutionFailed(ctx context.Context, exec *models.JourneyExecution) error {
	var detail json.RawMessage
	if exec.Vars.LastError != nil {
		detail, _ = json.Marshal(exec.Vars.LastError)
	}
	return e.emit(ctx, "journey.execution.failed", exec, detail)
}

// EmitExecutionCancelled emits a journey.execution.cancelled event
func (e *Emitter) EmitExecutionCancelled(ctx context.Context, exec *models.JourneyExecution) error {
	return e.emit(ctx, "journey.execution.cancelled", exec, nil)
}

// EmitStepSkipped emits an audit event for a messaging step skipped on
// permanent delivery failure
func (e *Emitter) EmitStepSkipped(ctx context.Context, exec *models.JourneyExecution, skip *models.StepSkip) error {
	detail, _ := json.Marshal(skip)
	return e.emit(ctx, "journey.step.skipped", exec, detail)
}

func (e *Emitter) emit(ctx context.Context, eventType string, exec *models.JourneyExecution, detail json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	event := &kafka.ExecutionEvent{
		EventType:   eventType,
		TenantID:    exec.TenantID,
		ExecutionID: exec.ID,
		JourneyID:   exec.JourneyID,
		ContactID:   exec.ContactID,
		Status:      string(exec.Status),
		Detail:      detail,
	}

	if err := e.producer.PublishExecutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
		}).Error("Failed to emit execution event")
		return err
	}

	return nil
}
