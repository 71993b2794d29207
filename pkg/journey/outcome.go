package journey

import "time"

// OutcomeKind discriminates step execution outcomes
type OutcomeKind string

const (
	// OutcomeAdvance continues immediately to the next ordinal
	OutcomeAdvance OutcomeKind = "advance"
	// OutcomeDefer re-checks the execution at or after Until
	OutcomeDefer OutcomeKind = "defer"
	// OutcomeBranch jumps to TargetStepID (condition steps)
	OutcomeBranch OutcomeKind = "branch"
	// OutcomeFail stops the execution as failed; no further advancement
	OutcomeFail OutcomeKind = "fail"
	// OutcomeTerminate stops the execution as completed
	OutcomeTerminate OutcomeKind = "terminate"
)

// Outcome is the transient result of executing one step. It drives the next
// state transition and is never persisted itself.
type Outcome struct {
	Kind         OutcomeKind
	Until        time.Time // defer only
	TargetStepID string    // branch only
	Reason       string    // fail only
}

// Advance continues immediately to the next ordinal
func Advance() Outcome { return Outcome{Kind: OutcomeAdvance} }

// DeferUntil sleeps the execution until at or after t
func DeferUntil(t time.Time) Outcome { return Outcome{Kind: OutcomeDefer, Until: t} }

// BranchTo jumps to the given step
func BranchTo(stepID string) Outcome { return Outcome{Kind: OutcomeBranch, TargetStepID: stepID} }

// FailWith stops the execution as failed
func FailWith(reason string) Outcome { return Outcome{Kind: OutcomeFail, Reason: reason} }

// Terminate stops the execution as completed
func Terminate() Outcome { return Outcome{Kind: OutcomeTerminate} }
