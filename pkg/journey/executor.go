package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/dispatch"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// ExecutorConfig bounds retry behavior for messaging and webhook steps
type ExecutorConfig struct {
	// MaxAttempts is the total attempt budget per step, first try included
	MaxAttempts int
	// RetryBackoff is the base delay; attempt n waits RetryBackoff << (n-1)
	RetryBackoff time.Duration
}

// StepExecutor runs a single step against a contact snapshot and reports the
// resulting outcome. It never moves the step pointer itself; the advancer owns
// all state transitions.
type StepExecutor struct {
	logger     logging.Logger
	subjects   subject.Repository
	dispatcher dispatch.Dispatcher
	evaluator  *condition.Evaluator
	clock      Clock
	cfg        ExecutorConfig
}

// NewStepExecutor creates a step executor
func NewStepExecutor(
	logger logging.Logger,
	subjects subject.Repository,
	dispatcher dispatch.Dispatcher,
	evaluator *condition.Evaluator,
	clock Clock,
	cfg ExecutorConfig,
) *StepExecutor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	return &StepExecutor{
		logger:     logger,
		subjects:   subjects,
		dispatcher: dispatcher,
		evaluator:  evaluator,
		clock:      clock,
		cfg:        cfg,
	}
}

// Execute runs one step. Side effects fire at most once per (execution, step):
// a step already in the completed set advances without re-dispatching.
func (x *StepExecutor) Execute(
	ctx context.Context,
	def *models.JourneyDefinition,
	step *models.JourneyStepDefinition,
	exec *models.JourneyExecution,
	snap *subject.Snapshot,
) Outcome {
	ctx, span := tracing.StartSpan(ctx, "journey.StepExecutor.Execute")
	defer span.End()

	log := x.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": exec.ID,
		"journey_id":   exec.JourneyID,
		"step_id":      step.ID,
		"step_kind":    step.Kind,
	})

	// Guard evaluates before any side effect. A false guard skips the step
	// without recording an error.
	if step.Guard != nil && !step.Guard.IsZero() {
		if !x.evaluator.Evaluate(step.Guard, snap, x.clock.Now()) {
			log.Debug("Step guard evaluated false, skipping step")
			return Advance()
		}
	}

	switch step.Kind {
	case models.StepKindWait:
		return x.executeWait(step, exec, log)
	case models.StepKindSendEmail, models.StepKindSendSMS:
		return x.executeMessage(ctx, step, exec, snap, log)
	case models.StepKindWebhook:
		return x.executeWebhook(ctx, step, exec, log)
	case models.StepKindCondition:
		return x.executeCondition(def, step, exec, snap, log)
	case models.StepKindEnd:
		return Terminate()
	default:
		if step.Kind.IsMutating() {
			return x.executeMutation(ctx, step, exec, log)
		}
		return FailWith(fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

// executeWait stamps the wait's start on first visit and defers until the
// duration elapses. Wall-clock based so restarts and reclaims do not reset
// the wait.
func (x *StepExecutor) executeWait(step *models.JourneyStepDefinition, exec *models.JourneyExecution, log logging.Logger) Outcome {
	var cfg models.WaitConfig
	if err := models.DecodeStepConfig(step, &cfg); err != nil {
		return FailWith(err.Error())
	}
	d := cfg.Duration()

	now := x.clock.Now()
	started := exec.Vars.CurrentStepStartedAt
	if started == nil {
		exec.Vars.CurrentStepStartedAt = &now
		log.Debug("Wait step started")
		return DeferUntil(now.Add(d))
	}

	if now.Sub(*started) >= d {
		return Advance()
	}
	return DeferUntil(started.Add(d))
}

func (x *StepExecutor) executeMessage(ctx context.Context, step *models.JourneyStepDefinition, exec *models.JourneyExecution, snap *subject.Snapshot, log logging.Logger) Outcome {
	if exec.Completed.Contains(step.ID) {
		return Advance()
	}

	var cfg models.MessageConfig
	if err := models.DecodeStepConfig(step, &cfg); err != nil {
		return FailWith(err.Error())
	}

	msg := dispatch.Message{
		TenantID:    exec.TenantID,
		ExecutionID: exec.ID,
		StepID:      step.ID,
		ContactID:   exec.ContactID,
		TemplateID:  cfg.TemplateID,
		Subject:     cfg.Subject,
	}

	var err error
	if step.Kind == models.StepKindSendEmail {
		msg.Channel = "email"
		msg.Recipient = snap.Email
		err = x.dispatcher.SendEmail(ctx, msg)
	} else {
		msg.Channel = "sms"
		msg.Recipient = snap.Phone
		err = x.dispatcher.SendSMS(ctx, msg)
	}
	if err == nil {
		return Advance()
	}
	return x.classifyDispatchFailure(step, exec, err, log)
}

func (x *StepExecutor) executeWebhook(ctx context.Context, step *models.JourneyStepDefinition, exec *models.JourneyExecution, log logging.Logger) Outcome {
	if exec.Completed.Contains(step.ID) {
		return Advance()
	}

	var cfg models.WebhookConfig
	if err := models.DecodeStepConfig(step, &cfg); err != nil {
		return FailWith(err.Error())
	}

	err := x.dispatcher.CallWebhook(ctx, dispatch.WebhookRequest{
		TenantID:    exec.TenantID,
		ExecutionID: exec.ID,
		StepID:      step.ID,
		URL:         cfg.URL,
		Method:      cfg.Method,
		Headers:     cfg.Headers,
		Body:        cfg.Body,
		TimeoutSecs: cfg.TimeoutSeconds,
	})
	if err == nil {
		return Advance()
	}
	return x.classifyDispatchFailure(step, exec, err, log)
}

// classifyDispatchFailure applies the messaging retry policy. Permanent
// failures skip the step and advance, recorded for audit. Transient failures
// retry with exponential backoff until the attempt budget is spent, then the
// execution fails.
func (x *StepExecutor) classifyDispatchFailure(step *models.JourneyStepDefinition, exec *models.JourneyExecution, err error, log logging.Logger) Outcome {
	now := x.clock.Now()

	if dispatch.IsPermanent(err) {
		exec.Vars.LastSkip = &models.StepSkip{
			StepID: step.ID,
			Reason: err.Error(),
			At:     now,
		}
		log.WithError(err).Warn("Permanent dispatch failure, skipping step")
		return Advance()
	}

	attempts := exec.Vars.RetryCount + 1
	if attempts >= x.cfg.MaxAttempts {
		exec.Vars.LastError = &models.StepError{
			StepID:   step.ID,
			Message:  err.Error(),
			Attempts: attempts,
			At:       now,
		}
		log.WithError(err).WithFields(map[string]any{"attempts": attempts}).Error("Dispatch retries exhausted")
		return FailWith(fmt.Sprintf("step %s failed after %d attempts: %v", step.ID, attempts, err))
	}

	exec.Vars.RetryCount = attempts
	backoff := x.cfg.RetryBackoff << (attempts - 1)
	log.WithError(err).WithFields(map[string]any{
		"attempt":  attempts,
		"retry_in": backoff.String(),
	}).Warn("Transient dispatch failure, deferring for retry")
	return DeferUntil(now.Add(backoff))
}

// executeMutation runs a CRM mutation step. Mutation failures fail the
// execution outright: unlike messaging there is no safe skip, the journey's
// later steps may depend on the mutation having happened.
func (x *StepExecutor) executeMutation(ctx context.Context, step *models.JourneyStepDefinition, exec *models.JourneyExecution, log logging.Logger) Outcome {
	if exec.Completed.Contains(step.ID) {
		return Advance()
	}

	key := subject.DedupKey{ExecutionID: exec.ID, StepID: step.ID}
	err := x.applyMutation(ctx, step, exec, key)
	if err == nil {
		return Advance()
	}

	exec.Vars.LastError = &models.StepError{
		StepID:   step.ID,
		Message:  err.Error(),
		Attempts: 1,
		At:       x.clock.Now(),
	}
	log.WithError(err).Error("Contact mutation failed")
	return FailWith(fmt.Sprintf("step %s: %v", step.ID, err))
}

func (x *StepExecutor) applyMutation(ctx context.Context, step *models.JourneyStepDefinition, exec *models.JourneyExecution, key subject.DedupKey) error {
	switch step.Kind {
	case models.StepKindCreateTask:
		var cfg models.TaskConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		req := subject.CreateTaskRequest{
			ContactID:   exec.ContactID,
			Title:       cfg.Title,
			Description: cfg.Description,
			DedupKey:    key,
		}
		if cfg.DueInDays > 0 {
			due := x.clock.Now().AddDate(0, 0, cfg.DueInDays)
			req.DueAt = &due
		}
		return x.subjects.CreateTask(ctx, exec.TenantID, req)

	case models.StepKindCreateDeal:
		var cfg models.DealConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.CreateDeal(ctx, exec.TenantID, subject.CreateDealRequest{
			ContactID: exec.ContactID,
			Name:      cfg.Name,
			Stage:     cfg.Stage,
			Value:     cfg.Value,
			DedupKey:  key,
		})

	case models.StepKindUpdateDeal:
		var cfg models.DealUpdateConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.UpdateDeal(ctx, exec.TenantID, subject.UpdateDealRequest{
			ContactID: exec.ContactID,
			Stage:     cfg.Stage,
			Value:     cfg.Value,
			DedupKey:  key,
		})

	case models.StepKindUpdateContact:
		var cfg models.ContactUpdateConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.UpdateContact(ctx, exec.TenantID, exec.ContactID, cfg.Attributes)

	case models.StepKindAddTag:
		var cfg models.TagConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.AddTag(ctx, exec.TenantID, exec.ContactID, cfg.Tag)

	case models.StepKindRemoveTag:
		var cfg models.TagConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.RemoveTag(ctx, exec.TenantID, exec.ContactID, cfg.Tag)

	case models.StepKindUpdateLeadScore:
		var cfg models.LeadScoreConfig
		if err := models.DecodeStepConfig(step, &cfg); err != nil {
			return err
		}
		return x.subjects.UpdateLeadScore(ctx, exec.TenantID, exec.ContactID, cfg.Delta, key)
	}
	return fmt.Errorf("step kind %q is not a mutation", step.Kind)
}

// executeCondition evaluates the expression against the snapshot and branches
// to the matching target ordinal. A nil target falls through to the next
// ordinal.
func (x *StepExecutor) executeCondition(def *models.JourneyDefinition, step *models.JourneyStepDefinition, exec *models.JourneyExecution, snap *subject.Snapshot, log logging.Logger) Outcome {
	var cfg models.ConditionConfig
	if err := models.DecodeStepConfig(step, &cfg); err != nil {
		return FailWith(err.Error())
	}

	result := x.evaluator.Evaluate(&cfg.Expression, snap, x.clock.Now())

	target := cfg.TrueTarget
	if !result {
		target = cfg.FalseTarget
	}
	if target == nil {
		return Advance()
	}

	targetStep := def.StepAt(*target)
	if targetStep == nil {
		// Validation prevents this for persisted journeys; fail loudly if the
		// definition drifted underneath a live execution.
		return FailWith(fmt.Sprintf("condition step %s targets missing ordinal %d", step.ID, *target))
	}

	exec.Vars.LastBranch = &targetStep.ID
	log.WithFields(map[string]any{
		"result":       result,
		"target_step":  targetStep.ID,
		"target_order": targetStep.Ordinal,
	}).Debug("Condition step branching")
	return BranchTo(targetStep.ID)
}
