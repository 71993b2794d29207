// Package scheduler owns execution advancement: a sweep loop finds due
// executions, claims them one worker at a time, and walks each through its
// steps until the step graph defers, fails or terminates.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// TransitionRecorder receives step transitions for the graph projection.
// Recording is best effort and never blocks advancement.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, exec *models.JourneyExecution, fromStepID, toStepID string) error
}

// AdvancerConfig tunes the sweep loop
type AdvancerConfig struct {
	SweepInterval   time.Duration
	SweepBatchSize  int
	Workers         int
	MaxStepsPerTick int
	ClaimLease      time.Duration
}

// Advancer drives running executions forward. One claimed execution is
// processed by exactly one worker at a time; everything it does to the row
// happens between Claim and Persist.
type Advancer struct {
	executions journey.ExecutionStore
	journeys   journey.JourneyStore
	subjects   subject.Repository
	executor   *journey.StepExecutor
	emitter    journey.LifecycleEmitter
	recorder   TransitionRecorder
	logger     logging.Logger
	clock      journey.Clock
	cfg        AdvancerConfig

	workerID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAdvancer creates the advancer. recorder may be nil when the graph
// projection is disabled.
func NewAdvancer(
	executions journey.ExecutionStore,
	journeys journey.JourneyStore,
	subjects subject.Repository,
	executor *journey.StepExecutor,
	emitter journey.LifecycleEmitter,
	recorder TransitionRecorder,
	logger logging.Logger,
	clock journey.Clock,
	cfg AdvancerConfig,
) *Advancer {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxStepsPerTick <= 0 {
		cfg.MaxStepsPerTick = 25
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	return &Advancer{
		executions: executions,
		journeys:   journeys,
		subjects:   subjects,
		executor:   executor,
		emitter:    emitter,
		recorder:   recorder,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
		workerID:   uuid.New().String(),
	}
}

// Start runs the sweep loop until Stop is called or the context is cancelled
func (a *Advancer) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.cfg.SweepInterval)
		defer ticker.Stop()

		a.logger.WithFields(map[string]any{
			"worker_id":      a.workerID,
			"sweep_interval": a.cfg.SweepInterval.String(),
			"workers":        a.cfg.Workers,
		}).Info("Advancer started")

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("Advancer stopping")
				return
			case <-ticker.C:
				a.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight work to finish
func (a *Advancer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
}

// Sweep finds due executions and processes them with a bounded worker pool.
// Safe to call concurrently from multiple instances: the claim protocol makes
// overlapping sweeps skip each other's executions.
func (a *Advancer) Sweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Advancer.Sweep")
	defer span.End()

	due, err := a.executions.FindDue(ctx, a.clock.Now(), a.cfg.SweepBatchSize)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to find due executions")
		return
	}
	if len(due) == 0 {
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				a.processExecution(ctx, id)
			}
		}()
	}
	for i := range due {
		select {
		case <-ctx.Done():
		case jobs <- due[i].ID:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()
}

// processExecution claims one execution and advances it until the step graph
// defers, terminates or fails. Losing the claim or the final persist means
// another actor owns the row; both are walked away from without retry.
func (a *Advancer) processExecution(ctx context.Context, executionID string) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Advancer.processExecution")
	defer span.End()

	now := a.clock.Now()
	exec, err := a.executions.Claim(ctx, executionID, a.workerID, now.Add(a.cfg.ClaimLease))
	if err != nil {
		if !errors.Is(err, journey.ErrClaimConflict) {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"execution_id": executionID,
			}).Error("Failed to claim execution")
		}
		return
	}

	log := a.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": exec.ID,
		"journey_id":   exec.JourneyID,
		"contact_id":   exec.ContactID,
	})

	def, err := a.journeys.GetByID(ctx, exec.TenantID, exec.JourneyID)
	if err != nil {
		log.WithError(err).Error("Failed to load journey definition")
		a.deferExecution(ctx, exec, a.clock.Now().Add(a.cfg.SweepInterval), log)
		return
	}

	snap, err := a.subjects.GetSnapshot(ctx, exec.TenantID, exec.ContactID)
	if err != nil {
		log.WithError(err).Error("Failed to load contact snapshot")
		a.deferExecution(ctx, exec, a.clock.Now().Add(a.cfg.SweepInterval), log)
		return
	}

	a.advance(ctx, def, exec, snap, log)
}

func (a *Advancer) advance(ctx context.Context, def *models.JourneyDefinition, exec *models.JourneyExecution, snap *subject.Snapshot, log logging.Logger) {
	for steps := 0; ; steps++ {
		if exec.CurrentStepID == nil {
			a.finalize(ctx, exec, models.ExecutionStatusCompleted, log)
			return
		}

		// Yield after a bounded number of steps so one execution cannot
		// monopolize a worker; the remainder runs on the next sweep.
		if steps >= a.cfg.MaxStepsPerTick {
			wake := a.clock.Now()
			log.WithFields(map[string]any{"steps": steps}).Warn("Step budget spent this tick, re-queueing execution")
			a.deferExecution(ctx, exec, wake, log)
			return
		}

		// Operator transitions bump the version. Re-reading between steps
		// lets a cancel or pause land after the current step finishes
		// instead of after the whole walk.
		if steps > 0 && a.changedSince(ctx, exec, log) {
			log.Info("Execution changed concurrently, abandoning advancement")
			return
		}

		step := def.StepByID(*exec.CurrentStepID)
		if step == nil {
			a.fail(ctx, exec, "current step no longer exists in journey definition", log)
			return
		}

		prevSkip := exec.Vars.LastSkip
		outcome := a.executor.Execute(ctx, def, step, exec, snap)
		if exec.Vars.LastSkip != prevSkip {
			_ = a.emitter.EmitStepSkipped(ctx, exec, exec.Vars.LastSkip)
		}

		// A mutation changes what later guards and conditions should see.
		// Refresh so the rest of the walk evaluates current contact state.
		if step.Kind.IsMutating() && outcome.Kind == journey.OutcomeAdvance {
			fresh, err := a.subjects.GetSnapshot(ctx, exec.TenantID, exec.ContactID)
			if err != nil {
				log.WithError(err).Warn("Failed to refresh contact snapshot after mutation")
			} else {
				snap = fresh
			}
		}

		switch outcome.Kind {
		case journey.OutcomeAdvance:
			exec.Completed = exec.Completed.Add(step.ID)
			next := def.NextStep(step.Ordinal)
			a.moveTo(ctx, exec, step, next, log)
			if next == nil {
				a.finalize(ctx, exec, models.ExecutionStatusCompleted, log)
				return
			}

		case journey.OutcomeBranch:
			exec.Completed = exec.Completed.Add(step.ID)
			target := def.StepByID(outcome.TargetStepID)
			if target == nil {
				a.fail(ctx, exec, "branch target no longer exists in journey definition", log)
				return
			}
			a.moveTo(ctx, exec, step, target, log)

		case journey.OutcomeDefer:
			a.deferExecution(ctx, exec, outcome.Until, log)
			return

		case journey.OutcomeFail:
			a.fail(ctx, exec, outcome.Reason, log)
			return

		case journey.OutcomeTerminate:
			exec.Completed = exec.Completed.Add(step.ID)
			a.finalize(ctx, exec, models.ExecutionStatusCompleted, log)
			return
		}
	}
}

// moveTo advances the step pointer and records the transition
func (a *Advancer) moveTo(ctx context.Context, exec *models.JourneyExecution, from, to *models.JourneyStepDefinition, log logging.Logger) {
	exec.ClearStepVars()
	if to == nil {
		exec.CurrentStepID = nil
		return
	}
	exec.CurrentStepID = &to.ID

	if a.recorder != nil {
		if err := a.recorder.RecordTransition(ctx, exec, from.ID, to.ID); err != nil {
			log.WithError(err).Warn("Failed to record step transition")
		}
	}
}

func (a *Advancer) deferExecution(ctx context.Context, exec *models.JourneyExecution, until time.Time, log logging.Logger) {
	exec.NextWakeAt = &until
	a.persist(ctx, exec, log)
}

func (a *Advancer) finalize(ctx context.Context, exec *models.JourneyExecution, status models.ExecutionStatus, log logging.Logger) {
	now := a.clock.Now()
	exec.Status = status
	exec.CurrentStepID = nil
	exec.NextWakeAt = nil
	exec.CompletedAt = &now
	exec.ClearStepVars()

	if !a.persist(ctx, exec, log) {
		return
	}

	_ = a.emitter.EmitExecutionCompleted(ctx, exec)
	log.Info("Execution completed")
}

// fail stops the execution as failed. The step pointer stays where it was so
// an operator retry resumes at the failing step.
func (a *Advancer) fail(ctx context.Context, exec *models.JourneyExecution, reason string, log logging.Logger) {
	now := a.clock.Now()
	exec.Status = models.ExecutionStatusFailed
	exec.NextWakeAt = nil
	exec.CompletedAt = &now

	if !a.persist(ctx, exec, log) {
		return
	}

	_ = a.emitter.EmitExecutionFailed(ctx, exec)
	log.WithFields(map[string]any{"reason": reason}).Warn("Execution failed")
}

// changedSince re-reads the stored row and reports whether another actor
// moved it past the version this worker claimed. A read failure counts as
// unchanged; the final persist still carries the version check.
func (a *Advancer) changedSince(ctx context.Context, exec *models.JourneyExecution, log logging.Logger) bool {
	stored, err := a.executions.GetByID(ctx, exec.TenantID, exec.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to re-read execution between steps")
		return false
	}
	return stored.Version != exec.Version
}

// persist writes the claimed execution back. A stale version means an
// operator transition (cancel, pause) won the race; the worker's changes are
// abandoned in favor of the operator's.
func (a *Advancer) persist(ctx context.Context, exec *models.JourneyExecution, log logging.Logger) bool {
	if err := a.executions.Persist(ctx, exec); err != nil {
		if errors.Is(err, journey.ErrStaleVersion) {
			log.Info("Execution changed concurrently, abandoning advancement")
			return false
		}
		log.WithError(err).Error("Failed to persist execution")
		return false
	}
	return true
}
