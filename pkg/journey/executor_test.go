package journey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/condition"
	"github.com/Ramsey-B/vine/pkg/dispatch"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
)

// fixedClock returns a constant time so wait and backoff math is deterministic
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// fakeDispatcher records dispatched actions and returns scripted errors
type fakeDispatcher struct {
	emails   []dispatch.Message
	sms      []dispatch.Message
	webhooks []dispatch.WebhookRequest
	err      error
}

func (d *fakeDispatcher) SendEmail(_ context.Context, msg dispatch.Message) error {
	d.emails = append(d.emails, msg)
	return d.err
}

func (d *fakeDispatcher) SendSMS(_ context.Context, msg dispatch.Message) error {
	d.sms = append(d.sms, msg)
	return d.err
}

func (d *fakeDispatcher) CallWebhook(_ context.Context, req dispatch.WebhookRequest) error {
	d.webhooks = append(d.webhooks, req)
	return d.err
}

// fakeSubjects records contact mutations and returns scripted errors
type fakeSubjects struct {
	snapshot *subject.Snapshot
	tasks    []subject.CreateTaskRequest
	deals    []subject.CreateDealRequest
	updates  []subject.UpdateDealRequest
	attrs    []map[string]any
	tags     []string
	deltas   []float64
	err      error
}

func (s *fakeSubjects) GetSnapshot(_ context.Context, _, _ string) (*subject.Snapshot, error) {
	if s.snapshot == nil {
		return nil, errors.New("no snapshot configured")
	}
	return s.snapshot, nil
}

func (s *fakeSubjects) CreateTask(_ context.Context, _ string, req subject.CreateTaskRequest) error {
	s.tasks = append(s.tasks, req)
	return s.err
}

func (s *fakeSubjects) CreateDeal(_ context.Context, _ string, req subject.CreateDealRequest) error {
	s.deals = append(s.deals, req)
	return s.err
}

func (s *fakeSubjects) UpdateDeal(_ context.Context, _ string, req subject.UpdateDealRequest) error {
	s.updates = append(s.updates, req)
	return s.err
}

func (s *fakeSubjects) UpdateContact(_ context.Context, _, _ string, attributes map[string]any) error {
	s.attrs = append(s.attrs, attributes)
	return s.err
}

func (s *fakeSubjects) AddTag(_ context.Context, _, _, tag string) error {
	s.tags = append(s.tags, tag)
	return s.err
}

func (s *fakeSubjects) RemoveTag(_ context.Context, _, _, tag string) error {
	s.tags = append(s.tags, tag)
	return s.err
}

func (s *fakeSubjects) UpdateLeadScore(_ context.Context, _, _ string, delta float64, _ subject.DedupKey) error {
	s.deltas = append(s.deltas, delta)
	return s.err
}

func executionFixture() *models.JourneyExecution {
	return &models.JourneyExecution{
		ID:        "exec-1",
		TenantID:  "tenant-1",
		JourneyID: "journey-1",
		ContactID: "contact-1",
		Status:    models.ExecutionStatusRunning,
		Completed: models.StepIDSet{},
		Version:   1,
	}
}

func snapshotFixture() *subject.Snapshot {
	return &subject.Snapshot{
		ContactID: "contact-1",
		TenantID:  "tenant-1",
		Email:     "ada@example.com",
		Phone:     "+15550100",
		Tags:      []string{"beta"},
		LeadScore: 10,
	}
}

type executorFixture struct {
	executor   *StepExecutor
	dispatcher *fakeDispatcher
	subjects   *fakeSubjects
	clock      *fixedClock
}

func newExecutorFixture(t *testing.T, cfg ExecutorConfig) *executorFixture {
	t.Helper()
	d := &fakeDispatcher{}
	s := &fakeSubjects{snapshot: snapshotFixture()}
	clock := &fixedClock{now: time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)}
	return &executorFixture{
		executor:   NewStepExecutor(logging.NewNop(), s, d, condition.NewEvaluator(), clock, cfg),
		dispatcher: d,
		subjects:   s,
		clock:      clock,
	}
}

func TestStepExecutor_Wait(t *testing.T) {
	f := newExecutorFixture(t, ExecutorConfig{})
	def := definition(step(1, models.StepKindWait, `{"hours":24}`))
	waitStep := &def.Steps[0]

	t.Run("first visit stamps start and defers for the full duration", func(t *testing.T) {
		exec := executionFixture()
		outcome := f.executor.Execute(context.Background(), def, waitStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeDefer, outcome.Kind)
		assert.Equal(t, f.clock.now.Add(24*time.Hour), outcome.Until)
		require.NotNil(t, exec.Vars.CurrentStepStartedAt)
		assert.Equal(t, f.clock.now, *exec.Vars.CurrentStepStartedAt)
	})

	t.Run("revisit before the duration elapsed defers until the original deadline", func(t *testing.T) {
		exec := executionFixture()
		started := f.clock.now.Add(-1 * time.Hour)
		exec.Vars.CurrentStepStartedAt = &started

		outcome := f.executor.Execute(context.Background(), def, waitStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeDefer, outcome.Kind)
		assert.Equal(t, started.Add(24*time.Hour), outcome.Until)
	})

	t.Run("advances once the duration elapsed", func(t *testing.T) {
		exec := executionFixture()
		started := f.clock.now.Add(-25 * time.Hour)
		exec.Vars.CurrentStepStartedAt = &started

		outcome := f.executor.Execute(context.Background(), def, waitStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
	})
}

func TestStepExecutor_Messaging(t *testing.T) {
	def := definition(step(1, models.StepKindSendEmail, `{"template_id":"welcome","subject":"Hi"}`))
	emailStep := &def.Steps[0]

	t.Run("successful send advances", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.Len(t, f.dispatcher.emails, 1)
		assert.Equal(t, "welcome", f.dispatcher.emails[0].TemplateID)
		assert.Equal(t, "ada@example.com", f.dispatcher.emails[0].Recipient)
		assert.Equal(t, "email", f.dispatcher.emails[0].Channel)
	})

	t.Run("completed step advances without re-dispatching", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()
		exec.Completed = models.StepIDSet{emailStep.ID}

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		assert.Empty(t, f.dispatcher.emails)
	})

	t.Run("permanent failure records the skip and advances", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		f.dispatcher.err = dispatch.Permanent(errors.New("address suppressed"))
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.NotNil(t, exec.Vars.LastSkip)
		assert.Equal(t, emailStep.ID, exec.Vars.LastSkip.StepID)
		assert.Contains(t, exec.Vars.LastSkip.Reason, "address suppressed")
		assert.Nil(t, exec.Vars.LastError)
	})

	t.Run("transient failure defers with exponential backoff", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{MaxAttempts: 5, RetryBackoff: time.Minute})
		f.dispatcher.err = dispatch.Transient(errors.New("provider timeout"))
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())
		assert.Equal(t, OutcomeDefer, outcome.Kind)
		assert.Equal(t, f.clock.now.Add(time.Minute), outcome.Until)
		assert.Equal(t, 1, exec.Vars.RetryCount)

		outcome = f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())
		assert.Equal(t, OutcomeDefer, outcome.Kind)
		assert.Equal(t, f.clock.now.Add(2*time.Minute), outcome.Until)
		assert.Equal(t, 2, exec.Vars.RetryCount)

		outcome = f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())
		assert.Equal(t, f.clock.now.Add(4*time.Minute), outcome.Until)
		assert.Equal(t, 3, exec.Vars.RetryCount)
	})

	t.Run("exhausted attempts fail the execution", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{MaxAttempts: 3, RetryBackoff: time.Minute})
		f.dispatcher.err = dispatch.Transient(errors.New("provider timeout"))
		exec := executionFixture()
		exec.Vars.RetryCount = 2

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeFail, outcome.Kind)
		require.NotNil(t, exec.Vars.LastError)
		assert.Equal(t, 3, exec.Vars.LastError.Attempts)
		assert.Contains(t, exec.Vars.LastError.Message, "provider timeout")
	})

	t.Run("unclassified errors count as transient", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{MaxAttempts: 5, RetryBackoff: time.Minute})
		f.dispatcher.err = errors.New("connection reset")
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, emailStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeDefer, outcome.Kind)
		assert.Equal(t, 1, exec.Vars.RetryCount)
	})

	t.Run("sms uses the phone recipient", func(t *testing.T) {
		smsDef := definition(step(1, models.StepKindSendSMS, `{"template_id":"reminder"}`))
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), smsDef, &smsDef.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.Len(t, f.dispatcher.sms, 1)
		assert.Equal(t, "+15550100", f.dispatcher.sms[0].Recipient)
		assert.Equal(t, "sms", f.dispatcher.sms[0].Channel)
	})
}

func TestStepExecutor_Webhook(t *testing.T) {
	def := definition(step(1, models.StepKindWebhook, `{"url":"https://example.com/hook","method":"POST","timeout_seconds":5}`))
	hookStep := &def.Steps[0]

	t.Run("successful call advances", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, hookStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.Len(t, f.dispatcher.webhooks, 1)
		assert.Equal(t, "https://example.com/hook", f.dispatcher.webhooks[0].URL)
		assert.Equal(t, 5, f.dispatcher.webhooks[0].TimeoutSecs)
	})

	t.Run("permanent failure skips like messaging", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		f.dispatcher.err = dispatch.Permanent(errors.New("410 gone"))
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, hookStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.NotNil(t, exec.Vars.LastSkip)
	})
}

func TestStepExecutor_Guard(t *testing.T) {
	def := definition(step(1, models.StepKindSendEmail, `{"template_id":"welcome"}`))
	def.Steps[0].Guard = &models.ConditionExpr{
		Pred: &models.Predicate{Type: models.PredicateTagPresent, Value: "vip"},
	}

	t.Run("false guard skips without dispatching", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()
		snap := snapshotFixture() // not tagged vip

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snap)

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		assert.Empty(t, f.dispatcher.emails)
		assert.Nil(t, exec.Vars.LastSkip)
	})

	t.Run("true guard runs the step", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()
		snap := snapshotFixture()
		snap.Tags = append(snap.Tags, "vip")

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snap)

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		assert.Len(t, f.dispatcher.emails, 1)
	})
}

func TestStepExecutor_Mutations(t *testing.T) {
	t.Run("create task passes the dedup key and due date", func(t *testing.T) {
		def := definition(step(1, models.StepKindCreateTask, `{"title":"Follow up","due_in_days":3}`))
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.Len(t, f.subjects.tasks, 1)
		task := f.subjects.tasks[0]
		assert.Equal(t, "Follow up", task.Title)
		assert.Equal(t, subject.DedupKey{ExecutionID: exec.ID, StepID: def.Steps[0].ID}, task.DedupKey)
		require.NotNil(t, task.DueAt)
		assert.Equal(t, f.clock.now.AddDate(0, 0, 3), *task.DueAt)
	})

	t.Run("completed mutation does not re-apply", func(t *testing.T) {
		def := definition(step(1, models.StepKindUpdateLeadScore, `{"delta":10}`))
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()
		exec.Completed = models.StepIDSet{def.Steps[0].ID}

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		assert.Empty(t, f.subjects.deltas)
	})

	t.Run("mutation failure fails the execution", func(t *testing.T) {
		def := definition(step(1, models.StepKindAddTag, `{"tag":"engaged"}`))
		f := newExecutorFixture(t, ExecutorConfig{})
		f.subjects.err = errors.New("contact store unavailable")
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeFail, outcome.Kind)
		require.NotNil(t, exec.Vars.LastError)
		assert.Equal(t, def.Steps[0].ID, exec.Vars.LastError.StepID)
		assert.Equal(t, 1, exec.Vars.LastError.Attempts)
	})

	t.Run("update contact merges attributes", func(t *testing.T) {
		def := definition(step(1, models.StepKindUpdateContact, `{"attributes":{"stage":"onboarded"}}`))
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		require.Len(t, f.subjects.attrs, 1)
		assert.Equal(t, "onboarded", f.subjects.attrs[0]["stage"])
	})
}

func TestStepExecutor_Condition(t *testing.T) {
	cfg := `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"true_target":3,"false_target":2}`
	def := definition(
		step(1, models.StepKindCondition, cfg),
		step(2, models.StepKindSendEmail, `{"template_id":"nurture"}`),
		step(3, models.StepKindCreateTask, `{"title":"Call VIP"}`),
	)
	condStep := &def.Steps[0]

	t.Run("true branch jumps to the true target", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()
		snap := snapshotFixture()
		snap.Tags = []string{"vip"}

		outcome := f.executor.Execute(context.Background(), def, condStep, exec, snap)

		assert.Equal(t, OutcomeBranch, outcome.Kind)
		assert.Equal(t, "step-3", outcome.TargetStepID)
		require.NotNil(t, exec.Vars.LastBranch)
		assert.Equal(t, "step-3", *exec.Vars.LastBranch)
	})

	t.Run("false branch jumps to the false target", func(t *testing.T) {
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), def, condStep, exec, snapshotFixture())

		assert.Equal(t, OutcomeBranch, outcome.Kind)
		assert.Equal(t, "step-2", outcome.TargetStepID)
	})

	t.Run("nil target falls through to the next ordinal", func(t *testing.T) {
		fallthroughDef := definition(
			step(1, models.StepKindCondition, `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"true_target":3}`),
			step(2, models.StepKindEnd, ""),
			step(3, models.StepKindEnd, ""),
		)
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), fallthroughDef, &fallthroughDef.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeAdvance, outcome.Kind)
		assert.Nil(t, exec.Vars.LastBranch)
	})

	t.Run("missing target fails loudly", func(t *testing.T) {
		driftedDef := definition(
			step(1, models.StepKindCondition, `{"expression":{"pred":{"type":"tag_present","value":"vip"}},"false_target":7}`),
		)
		f := newExecutorFixture(t, ExecutorConfig{})
		exec := executionFixture()

		outcome := f.executor.Execute(context.Background(), driftedDef, &driftedDef.Steps[0], exec, snapshotFixture())

		assert.Equal(t, OutcomeFail, outcome.Kind)
		assert.Contains(t, outcome.Reason, "missing ordinal 7")
	})
}

func TestStepExecutor_End(t *testing.T) {
	def := definition(step(1, models.StepKindEnd, ""))
	f := newExecutorFixture(t, ExecutorConfig{})

	outcome := f.executor.Execute(context.Background(), def, &def.Steps[0], executionFixture(), snapshotFixture())

	assert.Equal(t, OutcomeTerminate, outcome.Kind)
}

func TestBuildProgress(t *testing.T) {
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	def := definition(
		step(1, models.StepKindSendEmail, `{"template_id":"welcome"}`),
		step(2, models.StepKindWait, `{"hours":10}`),
		step(3, models.StepKindEnd, ""),
	)

	t.Run("completed, in progress, pending", func(t *testing.T) {
		exec := executionFixture()
		exec.Completed = models.StepIDSet{"step-1"}
		current := "step-2"
		exec.CurrentStepID = &current
		started := now.Add(-5 * time.Hour)
		exec.Vars.CurrentStepStartedAt = &started

		progress := BuildProgress(def, exec, now)

		require.Len(t, progress.Steps, 3)
		assert.Equal(t, models.StepProgressCompleted, progress.Steps[0].State)
		assert.Equal(t, models.StepProgressInProgress, progress.Steps[1].State)
		assert.Equal(t, models.StepProgressPending, progress.Steps[2].State)

		require.NotNil(t, progress.Steps[1].WaitPercent)
		assert.InDelta(t, 50, *progress.Steps[1].WaitPercent, 0.01)
	})

	t.Run("wait percent clamps at 100", func(t *testing.T) {
		exec := executionFixture()
		current := "step-2"
		exec.CurrentStepID = &current
		started := now.Add(-30 * time.Hour)
		exec.Vars.CurrentStepStartedAt = &started

		progress := BuildProgress(def, exec, now)

		require.NotNil(t, progress.Steps[1].WaitPercent)
		assert.Equal(t, float64(100), *progress.Steps[1].WaitPercent)
	})

	t.Run("terminal execution has no in progress step", func(t *testing.T) {
		exec := executionFixture()
		exec.Status = models.ExecutionStatusFailed
		current := "step-2"
		exec.CurrentStepID = &current

		progress := BuildProgress(def, exec, now)

		assert.Equal(t, models.StepProgressPending, progress.Steps[1].State)
	})

	t.Run("carries last error for display", func(t *testing.T) {
		exec := executionFixture()
		exec.Vars.LastError = &models.StepError{StepID: "step-1", Message: "boom", Attempts: 3, At: now}

		progress := BuildProgress(def, exec, now)

		require.NotNil(t, progress.LastError)
		assert.Equal(t, "boom", progress.LastError.Message)
	})
}
