package journey

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/models"
)

func step(ordinal int, kind models.StepKind, config string) models.JourneyStepDefinition {
	s := models.JourneyStepDefinition{
		ID:      fmt.Sprintf("step-%d", ordinal),
		Ordinal: ordinal,
		Kind:    kind,
	}
	if config != "" {
		s.Config = json.RawMessage(config)
	}
	return s
}

func definition(steps ...models.JourneyStepDefinition) *models.JourneyDefinition {
	return &models.JourneyDefinition{
		ID:       "journey-1",
		TenantID: "tenant-1",
		Name:     "Onboarding",
		Status:   models.JourneyStatusDraft,
		Steps:    steps,
	}
}

func TestValidateDefinition(t *testing.T) {
	evaluator := condition.NewEvaluator()

	t.Run("valid journey passes", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindSendEmail, `{"template_id":"welcome"}`),
			step(2, models.StepKindWait, `{"days":1}`),
			step(3, models.StepKindCondition, `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"true_target":4,"false_target":5}`),
			step(4, models.StepKindCreateTask, `{"title":"Call VIP"}`),
			step(5, models.StepKindEnd, ""),
		)
		require.NoError(t, ValidateDefinition(def, evaluator))
	})

	t.Run("empty journey passes", func(t *testing.T) {
		require.NoError(t, ValidateDefinition(definition(), evaluator))
	})

	t.Run("duplicate ordinal", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindEnd, ""),
			step(1, models.StepKindEnd, ""),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate ordinal 1")
	})

	t.Run("gap in ordinals", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindEnd, ""),
			step(3, models.StepKindEnd, ""),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing ordinal 2")
	})

	t.Run("ordinal below one", func(t *testing.T) {
		def := definition(step(0, models.StepKindEnd, ""))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ordinal must be >= 1")
	})

	t.Run("unknown step kind", func(t *testing.T) {
		def := definition(step(1, "teleport", ""))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown kind "teleport"`)
	})

	t.Run("wait requires positive duration", func(t *testing.T) {
		def := definition(step(1, models.StepKindWait, `{"days":0}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wait duration must be positive")
	})

	t.Run("message requires template id", func(t *testing.T) {
		def := definition(step(1, models.StepKindSendEmail, `{"subject":"hi"}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "template_id is required")
	})

	t.Run("webhook requires absolute url", func(t *testing.T) {
		def := definition(step(1, models.StepKindWebhook, `{"url":"/relative/path"}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an absolute URL")
	})

	t.Run("webhook rejects negative timeout", func(t *testing.T) {
		def := definition(step(1, models.StepKindWebhook, `{"url":"https://example.com/hook","timeout_seconds":-1}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_seconds must not be negative")
	})

	t.Run("condition branch target must exist", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindCondition, `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"true_target":9}`),
			step(2, models.StepKindEnd, ""),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "true_target ordinal 9 does not exist")
	})

	t.Run("condition must not target itself", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindCondition, `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"false_target":1}`),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not point at the condition itself")
	})

	t.Run("condition rejects invalid expression", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindCondition, `{"expression":{"pred":{"type":"wrong_type"}}}`),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown predicate type")
	})

	t.Run("invalid guard", func(t *testing.T) {
		def := definition(step(1, models.StepKindEnd, ""))
		def.Steps[0].Guard = &models.ConditionExpr{
			Pred: &models.Predicate{Type: "bogus"},
		}
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "guard")
	})

	t.Run("create task requires title", func(t *testing.T) {
		def := definition(step(1, models.StepKindCreateTask, `{"description":"no title"}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "title is required")
	})

	t.Run("update deal requires stage or value", func(t *testing.T) {
		def := definition(step(1, models.StepKindUpdateDeal, `{}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one of stage or value is required")
	})

	t.Run("update contact requires attributes", func(t *testing.T) {
		def := definition(step(1, models.StepKindUpdateContact, `{"attributes":{}}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "attributes must not be empty")
	})

	t.Run("tag steps require tag", func(t *testing.T) {
		def := definition(step(1, models.StepKindAddTag, `{}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tag is required")
	})

	t.Run("lead score delta must not be zero", func(t *testing.T) {
		def := definition(step(1, models.StepKindUpdateLeadScore, `{"delta":0}`))
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delta must not be zero")
	})

	t.Run("collects multiple issues", func(t *testing.T) {
		def := definition(
			step(1, models.StepKindSendEmail, `{}`),
			step(3, models.StepKindWait, `{"minutes":0}`),
		)
		err := ValidateDefinition(def, evaluator)
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Issues, 3)
	})
}
