package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomingMessage_ParseTrigger(t *testing.T) {
	t.Run("valid trigger", func(t *testing.T) {
		msg := &IncomingMessage{
			Value: []byte(`{"tenant_id":"tenant-1","journey_id":"journey-1","contact_id":"contact-1"}`),
		}

		require.NoError(t, msg.ParseTrigger())
		require.NotNil(t, msg.Trigger)
		assert.Equal(t, "tenant-1", msg.Trigger.TenantID)
		assert.Equal(t, "journey-1", msg.Trigger.JourneyID)
		assert.Equal(t, "contact-1", msg.Trigger.ContactID)
	})

	t.Run("malformed payload", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{not json`)}

		err := msg.ParseTrigger()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse trigger message")
		assert.Nil(t, msg.Trigger)
	})

	t.Run("missing required fields", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"tenant_id":"tenant-1"}`)}

		err := msg.ParseTrigger()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing required fields")
		assert.Nil(t, msg.Trigger)
	})
}
