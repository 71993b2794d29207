// Package processor bridges the trigger topic to the journey service
package processor

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tenant"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// JourneyStarter is the slice of the journey service the processor needs
type JourneyStarter interface {
	StartJourney(ctx context.Context, tenantID, journeyID, contactID string) (*models.JourneyExecution, error)
}

// TriggerProcessor starts journey executions from trigger messages
type TriggerProcessor struct {
	service JourneyStarter
	logger  logging.Logger
}

// NewTriggerProcessor creates the trigger processor
func NewTriggerProcessor(service JourneyStarter, logger logging.Logger) *TriggerProcessor {
	return &TriggerProcessor{
		service: service,
		logger:  logger,
	}
}

// HandleMessage processes one trigger message. A nil return commits the
// offset. Client-class failures (duplicate enrollment, missing journey or
// contact, inactive journey) return nil so the consumer does not spin on a
// trigger that can never succeed.
func (p *TriggerProcessor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.TriggerProcessor.HandleMessage")
	defer span.End()

	trigger := msg.Trigger
	ctx = tenant.WithTenantID(ctx, trigger.TenantID)

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"journey_id": trigger.JourneyID,
		"contact_id": trigger.ContactID,
	})

	exec, err := p.service.StartJourney(ctx, trigger.TenantID, trigger.JourneyID, trigger.ContactID)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) < http.StatusInternalServerError {
			log.WithError(err).Warn("Dropping trigger that cannot be processed")
			return nil
		}
		log.WithError(err).Error("Failed to start journey from trigger")
		return err
	}

	log.WithFields(map[string]any{"execution_id": exec.ID}).Info("Started journey from trigger")
	return nil
}
