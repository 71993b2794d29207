package journey

import (
	"sort"
	"time"

	"github.com/Ramsey-B/vine/pkg/models"
)

// BuildProgress projects an execution onto its journey's steps for display.
// WaitPercent is computed for the in-progress wait step only and is clamped
// to 100; it never gates advancement.
func BuildProgress(def *models.JourneyDefinition, exec *models.JourneyExecution, now time.Time) *models.ExecutionProgress {
	progress := &models.ExecutionProgress{
		ExecutionID: exec.ID,
		JourneyID:   exec.JourneyID,
		ContactID:   exec.ContactID,
		Status:      exec.Status,
		Steps:       make([]models.StepProgress, 0, len(def.Steps)),
		LastError:   exec.Vars.LastError,
		LastSkip:    exec.Vars.LastSkip,
	}

	steps := make([]models.JourneyStepDefinition, len(def.Steps))
	copy(steps, def.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Ordinal < steps[j].Ordinal })

	for i := range steps {
		step := &steps[i]
		sp := models.StepProgress{
			StepID:  step.ID,
			Ordinal: step.Ordinal,
			Kind:    step.Kind,
			State:   models.StepProgressPending,
		}

		switch {
		case exec.Completed.Contains(step.ID):
			sp.State = models.StepProgressCompleted
		case exec.CurrentStepID != nil && *exec.CurrentStepID == step.ID && !exec.Status.IsTerminal():
			sp.State = models.StepProgressInProgress
			if step.Kind == models.StepKindWait {
				sp.WaitPercent = waitPercent(step, exec, now)
			}
		}

		progress.Steps = append(progress.Steps, sp)
	}

	return progress
}

func waitPercent(step *models.JourneyStepDefinition, exec *models.JourneyExecution, now time.Time) *float64 {
	var cfg models.WaitConfig
	if err := models.DecodeStepConfig(step, &cfg); err != nil {
		return nil
	}
	d := cfg.Duration()
	if d <= 0 || exec.Vars.CurrentStepStartedAt == nil {
		return nil
	}

	pct := float64(now.Sub(*exec.Vars.CurrentStepStartedAt)) / float64(d) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}
