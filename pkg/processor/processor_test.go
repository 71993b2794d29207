package processor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tenant"
)

type fakeStarter struct {
	err      error
	tenantID string
	lastCtx  context.Context
}

func (s *fakeStarter) StartJourney(ctx context.Context, tenantID, journeyID, contactID string) (*models.JourneyExecution, error) {
	s.lastCtx = ctx
	s.tenantID = tenantID
	if s.err != nil {
		return nil, s.err
	}
	return &models.JourneyExecution{
		ID:        "exec-1",
		TenantID:  tenantID,
		JourneyID: journeyID,
		ContactID: contactID,
		Status:    models.ExecutionStatusRunning,
	}, nil
}

func triggerMessage() *kafka.IncomingMessage {
	return &kafka.IncomingMessage{
		Topic: "vine.triggers",
		Trigger: &kafka.TriggerMessage{
			TenantID:  "tenant-1",
			JourneyID: "journey-1",
			ContactID: "contact-1",
		},
	}
}

func TestTriggerProcessor_HandleMessage(t *testing.T) {
	t.Run("starts the journey and commits", func(t *testing.T) {
		starter := &fakeStarter{}
		p := NewTriggerProcessor(starter, logging.NewNop())

		err := p.HandleMessage(context.Background(), triggerMessage())

		require.NoError(t, err)
		assert.Equal(t, "tenant-1", starter.tenantID)
		assert.Equal(t, "tenant-1", tenant.GetTenantID(starter.lastCtx))
	})

	t.Run("client errors are dropped so the consumer commits", func(t *testing.T) {
		starter := &fakeStarter{err: httperror.NewHTTPError(http.StatusConflict, "already enrolled")}
		p := NewTriggerProcessor(starter, logging.NewNop())

		err := p.HandleMessage(context.Background(), triggerMessage())

		assert.NoError(t, err)
	})

	t.Run("server errors propagate for redelivery", func(t *testing.T) {
		starter := &fakeStarter{err: httperror.NewHTTPError(http.StatusInternalServerError, "store down")}
		p := NewTriggerProcessor(starter, logging.NewNop())

		err := p.HandleMessage(context.Background(), triggerMessage())

		assert.Error(t, err)
	})

	t.Run("unclassified errors propagate for redelivery", func(t *testing.T) {
		starter := &fakeStarter{err: errors.New("connection refused")}
		p := NewTriggerProcessor(starter, logging.NewNop())

		err := p.HandleMessage(context.Background(), triggerMessage())

		assert.Error(t, err)
	})
}
