// Package condition evaluates boolean expression trees against contact
// snapshots. Evaluation is pure and side-effect-free: unknown attributes,
// missing events, and runtime expression errors all evaluate to false so a
// malformed definition degrades safely instead of wedging an execution.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
)

// Evaluator evaluates condition expression trees. Compiled expr programs are
// cached and reused across goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates a condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate evaluates the expression tree against the snapshot at the given
// time. Structural errors cannot occur here: trees are validated at journey
// authoring time.
func (e *Evaluator) Evaluate(cond *models.ConditionExpr, snap *subject.Snapshot, now time.Time) bool {
	if cond.IsZero() {
		return true
	}

	switch {
	case len(cond.All) > 0:
		for i := range cond.All {
			if !e.Evaluate(&cond.All[i], snap, now) {
				return false
			}
		}
		return true
	case len(cond.Any) > 0:
		for i := range cond.Any {
			if e.Evaluate(&cond.Any[i], snap, now) {
				return true
			}
		}
		return false
	case cond.Not != nil:
		return !e.Evaluate(cond.Not, snap, now)
	case cond.Pred != nil:
		return e.evaluatePredicate(cond.Pred, snap, now)
	}
	return false
}

func (e *Evaluator) evaluatePredicate(pred *models.Predicate, snap *subject.Snapshot, now time.Time) bool {
	switch pred.Type {
	case models.PredicateAttributeEquals:
		val, ok := snap.Attribute(pred.Attribute)
		if !ok {
			return false
		}
		return equalish(val, pred.Value)

	case models.PredicateAttributeContains:
		val, ok := snap.Attribute(pred.Attribute)
		if !ok {
			return false
		}
		return contains(val, pred.Value)

	case models.PredicateTagPresent:
		tag, ok := pred.Value.(string)
		if !ok {
			return false
		}
		return snap.HasTag(tag)

	case models.PredicateLeadScore:
		threshold, ok := asFloat(pred.Value)
		if !ok {
			return false
		}
		return compare(snap.LeadScore, pred.Operator, threshold)

	case models.PredicateTimeSinceEvent:
		occurredAt, ok := snap.Events[pred.Event]
		if !ok {
			return false
		}
		window, err := parseDurationValue(pred.Value)
		if err != nil {
			return false
		}
		return compare(now.Sub(occurredAt).Seconds(), pred.Operator, window.Seconds())

	case models.PredicateExpr:
		return e.evaluateExpr(pred.Expr, snap)
	}
	return false
}

// evaluateExpr runs a compiled expr-lang program against the snapshot
// environment. Compile failures are caught at validation time; runtime
// failures and non-boolean results evaluate to false.
func (e *Evaluator) evaluateExpr(expression string, snap *subject.Snapshot) bool {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false
	}

	out, err := vm.Run(prg, snapshotEnv(snap))
	if err != nil {
		return false
	}
	result, ok := out.(bool)
	return ok && result
}

func (e *Evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expr compile error in %q: %w", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// snapshotEnv flattens a snapshot into the expr environment. Attributes are
// top-level variables; tags and lead_score are reserved names.
func snapshotEnv(snap *subject.Snapshot) map[string]any {
	env := make(map[string]any, len(snap.Attributes)+4)
	for k, v := range snap.Attributes {
		env[k] = v
	}
	env["contact_id"] = snap.ContactID
	env["email"] = snap.Email
	env["tags"] = snap.Tags
	env["lead_score"] = snap.LeadScore
	return env
}

// Validate checks an expression tree for structural errors: empty nodes,
// multiple branches set, unknown predicate types or operators, uncompilable
// expr leaves, unparsable durations. Called at journey authoring time.
func (e *Evaluator) Validate(cond *models.ConditionExpr) error {
	if cond == nil {
		return fmt.Errorf("condition expression is nil")
	}

	set := 0
	if len(cond.All) > 0 {
		set++
	}
	if len(cond.Any) > 0 {
		set++
	}
	if cond.Not != nil {
		set++
	}
	if cond.Pred != nil {
		set++
	}
	if set == 0 {
		return fmt.Errorf("condition node is empty: exactly one of all/any/not/pred must be set")
	}
	if set > 1 {
		return fmt.Errorf("condition node is ambiguous: exactly one of all/any/not/pred must be set")
	}

	for i := range cond.All {
		if err := e.Validate(&cond.All[i]); err != nil {
			return err
		}
	}
	for i := range cond.Any {
		if err := e.Validate(&cond.Any[i]); err != nil {
			return err
		}
	}
	if cond.Not != nil {
		return e.Validate(cond.Not)
	}
	if cond.Pred != nil {
		return e.validatePredicate(cond.Pred)
	}
	return nil
}

func (e *Evaluator) validatePredicate(pred *models.Predicate) error {
	switch pred.Type {
	case models.PredicateAttributeEquals, models.PredicateAttributeContains:
		if pred.Attribute == "" {
			return fmt.Errorf("%s predicate requires an attribute", pred.Type)
		}
	case models.PredicateTagPresent:
		if _, ok := pred.Value.(string); !ok {
			return fmt.Errorf("tag_present predicate requires a string value")
		}
	case models.PredicateLeadScore:
		if !validOperator(pred.Operator) {
			return fmt.Errorf("lead_score predicate has unknown operator %q", pred.Operator)
		}
		if _, ok := asFloat(pred.Value); !ok {
			return fmt.Errorf("lead_score predicate requires a numeric value")
		}
	case models.PredicateTimeSinceEvent:
		if pred.Event == "" {
			return fmt.Errorf("time_since_event predicate requires an event name")
		}
		if !validOperator(pred.Operator) {
			return fmt.Errorf("time_since_event predicate has unknown operator %q", pred.Operator)
		}
		if _, err := parseDurationValue(pred.Value); err != nil {
			return fmt.Errorf("time_since_event predicate: %w", err)
		}
	case models.PredicateExpr:
		if strings.TrimSpace(pred.Expr) == "" {
			return fmt.Errorf("expr predicate requires a non-empty expression")
		}
		if _, err := e.getOrCompile(pred.Expr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown predicate type %q", pred.Type)
	}
	return nil
}

func validOperator(op string) bool {
	switch op {
	case models.CompareEq, models.CompareNeq, models.CompareGt, models.CompareGte, models.CompareLt, models.CompareLte:
		return true
	}
	return false
}

func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case models.CompareEq:
		return actual == threshold
	case models.CompareNeq:
		return actual != threshold
	case models.CompareGt:
		return actual > threshold
	case models.CompareGte:
		return actual >= threshold
	case models.CompareLt:
		return actual < threshold
	case models.CompareLte:
		return actual <= threshold
	}
	return false
}

func parseDurationValue(value any) (time.Duration, error) {
	s, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("duration value must be a string like \"72h\", got %T", value)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// equalish compares values loosely: JSON round-trips turn all numbers into
// float64, so numeric comparisons go through float conversion first.
func equalish(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

// contains handles string substring checks and membership in string slices
func contains(val, needle any) bool {
	needleStr, ok := needle.(string)
	if !ok {
		return false
	}
	switch v := val.(type) {
	case string:
		return strings.Contains(v, needleStr)
	case []string:
		for _, item := range v {
			if item == needleStr {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == needleStr {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
