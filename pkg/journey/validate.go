package journey

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/models"
)

// ValidationError collects every structural problem found in a journey
// definition so authors can fix them in one pass.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid journey definition: %s", strings.Join(e.Issues, "; "))
}

// ValidateDefinition checks the structural invariants of a journey's step
// list: ordinals are unique and contiguous starting at 1, every kind is known,
// and each step's config decodes and makes sense for its kind. Branch targets
// on condition steps must name existing ordinals.
func ValidateDefinition(def *models.JourneyDefinition, evaluator *condition.Evaluator) error {
	var issues []string

	seen := make(map[int]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Ordinal < 1 {
			issues = append(issues, fmt.Sprintf("step %d: ordinal must be >= 1, got %d", i, step.Ordinal))
			continue
		}
		if seen[step.Ordinal] {
			issues = append(issues, fmt.Sprintf("duplicate ordinal %d", step.Ordinal))
		}
		seen[step.Ordinal] = true
	}

	// Contiguity: ordinals 1..n with no gaps
	for ordinal := 1; ordinal <= len(def.Steps); ordinal++ {
		if !seen[ordinal] {
			issues = append(issues, fmt.Sprintf("missing ordinal %d: ordinals must be contiguous from 1", ordinal))
		}
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		issues = append(issues, validateStep(def, step, evaluator)...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateStep(def *models.JourneyDefinition, step *models.JourneyStepDefinition, evaluator *condition.Evaluator) []string {
	var issues []string
	label := fmt.Sprintf("step %d (%s)", step.Ordinal, step.Kind)

	if !step.Kind.IsValid() {
		return []string{fmt.Sprintf("step %d: unknown kind %q", step.Ordinal, step.Kind)}
	}

	if step.Guard != nil && !step.Guard.IsZero() {
		if err := evaluator.Validate(step.Guard); err != nil {
			issues = append(issues, fmt.Sprintf("%s guard: %v", label, err))
		}
	}

	switch step.Kind {
	case models.StepKindWait:
		var cfg models.WaitConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Duration() <= 0 {
			issues = append(issues, fmt.Sprintf("%s: wait duration must be positive", label))
		}

	case models.StepKindSendEmail, models.StepKindSendSMS:
		var cfg models.MessageConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.TemplateID == "" {
			issues = append(issues, fmt.Sprintf("%s: template_id is required", label))
		}

	case models.StepKindWebhook:
		var cfg models.WebhookConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.URL == "" {
			issues = append(issues, fmt.Sprintf("%s: url is required", label))
		} else if u, err := url.Parse(cfg.URL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, fmt.Sprintf("%s: url %q is not an absolute URL", label, cfg.URL))
		}
		if cfg.TimeoutSeconds < 0 {
			issues = append(issues, fmt.Sprintf("%s: timeout_seconds must not be negative", label))
		}

	case models.StepKindCondition:
		var cfg models.ConditionConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if err := evaluator.Validate(&cfg.Expression); err != nil {
			issues = append(issues, fmt.Sprintf("%s expression: %v", label, err))
		}
		for name, target := range map[string]*int{"true_target": cfg.TrueTarget, "false_target": cfg.FalseTarget} {
			if target == nil {
				continue
			}
			if def.StepAt(*target) == nil {
				issues = append(issues, fmt.Sprintf("%s: %s ordinal %d does not exist", label, name, *target))
			}
			if *target == step.Ordinal {
				issues = append(issues, fmt.Sprintf("%s: %s must not point at the condition itself", label, name))
			}
		}

	case models.StepKindCreateTask:
		var cfg models.TaskConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Title == "" {
			issues = append(issues, fmt.Sprintf("%s: title is required", label))
		}

	case models.StepKindCreateDeal:
		var cfg models.DealConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", label))
		}

	case models.StepKindUpdateDeal:
		var cfg models.DealUpdateConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Stage == nil && cfg.Value == nil {
			issues = append(issues, fmt.Sprintf("%s: at least one of stage or value is required", label))
		}

	case models.StepKindUpdateContact:
		var cfg models.ContactUpdateConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if len(cfg.Attributes) == 0 {
			issues = append(issues, fmt.Sprintf("%s: attributes must not be empty", label))
		}

	case models.StepKindAddTag, models.StepKindRemoveTag:
		var cfg models.TagConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Tag == "" {
			issues = append(issues, fmt.Sprintf("%s: tag is required", label))
		}

	case models.StepKindUpdateLeadScore:
		var cfg models.LeadScoreConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return append(issues, fmt.Sprintf("%s: %v", label, err))
		}
		if cfg.Delta == 0 {
			issues = append(issues, fmt.Sprintf("%s: delta must not be zero", label))
		}

	case models.StepKindEnd:
		// end takes no config
	}

	return issues
}
