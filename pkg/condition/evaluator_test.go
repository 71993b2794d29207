package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/subject"
)

func testSnapshot() *subject.Snapshot {
	return &subject.Snapshot{
		ContactID: "contact-1",
		TenantID:  "tenant-1",
		Email:     "ada@example.com",
		Attributes: map[string]any{
			"plan":     "pro",
			"industry": "fintech",
			"seats":    float64(12),
		},
		Tags:      []string{"newsletter", "beta"},
		LeadScore: 42.5,
		Events: map[string]time.Time{
			"email_opened": time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		TakenAt: time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC),
	}
}

func pred(p models.Predicate) *models.ConditionExpr {
	return &models.ConditionExpr{Pred: &p}
}

func TestEvaluate_Predicates(t *testing.T) {
	e := NewEvaluator()
	snap := testSnapshot()
	now := snap.TakenAt

	tests := []struct {
		name string
		cond *models.ConditionExpr
		want bool
	}{
		{
			name: "attribute equals matches",
			cond: pred(models.Predicate{Type: models.PredicateAttributeEquals, Attribute: "plan", Value: "pro"}),
			want: true,
		},
		{
			name: "attribute equals mismatch",
			cond: pred(models.Predicate{Type: models.PredicateAttributeEquals, Attribute: "plan", Value: "free"}),
			want: false,
		},
		{
			name: "attribute equals numeric after json round trip",
			cond: pred(models.Predicate{Type: models.PredicateAttributeEquals, Attribute: "seats", Value: 12}),
			want: true,
		},
		{
			name: "unknown attribute is false",
			cond: pred(models.Predicate{Type: models.PredicateAttributeEquals, Attribute: "missing", Value: "x"}),
			want: false,
		},
		{
			name: "attribute contains substring",
			cond: pred(models.Predicate{Type: models.PredicateAttributeContains, Attribute: "industry", Value: "fin"}),
			want: true,
		},
		{
			name: "tag present",
			cond: pred(models.Predicate{Type: models.PredicateTagPresent, Value: "beta"}),
			want: true,
		},
		{
			name: "tag absent",
			cond: pred(models.Predicate{Type: models.PredicateTagPresent, Value: "vip"}),
			want: false,
		},
		{
			name: "lead score gte",
			cond: pred(models.Predicate{Type: models.PredicateLeadScore, Operator: models.CompareGte, Value: 40}),
			want: true,
		},
		{
			name: "lead score lt",
			cond: pred(models.Predicate{Type: models.PredicateLeadScore, Operator: models.CompareLt, Value: 40}),
			want: false,
		},
		{
			name: "time since event exceeds window",
			cond: pred(models.Predicate{Type: models.PredicateTimeSinceEvent, Event: "email_opened", Operator: models.CompareGt, Value: "48h"}),
			want: true,
		},
		{
			name: "time since event inside window",
			cond: pred(models.Predicate{Type: models.PredicateTimeSinceEvent, Event: "email_opened", Operator: models.CompareLt, Value: "48h"}),
			want: false,
		},
		{
			name: "missing event is false",
			cond: pred(models.Predicate{Type: models.PredicateTimeSinceEvent, Event: "purchase", Operator: models.CompareGt, Value: "1h"}),
			want: false,
		},
		{
			name: "expr leaf over flattened attributes",
			cond: pred(models.Predicate{Type: models.PredicateExpr, Expr: `plan == "pro" && lead_score > 40`}),
			want: true,
		},
		{
			name: "expr leaf with undefined variable is false",
			cond: pred(models.Predicate{Type: models.PredicateExpr, Expr: `nonexistent == "x"`}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.cond, snap, now))
		})
	}
}

func TestEvaluate_Combinators(t *testing.T) {
	e := NewEvaluator()
	snap := testSnapshot()
	now := snap.TakenAt

	isPro := *pred(models.Predicate{Type: models.PredicateAttributeEquals, Attribute: "plan", Value: "pro"})
	isVIP := *pred(models.Predicate{Type: models.PredicateTagPresent, Value: "vip"})

	t.Run("all requires every child", func(t *testing.T) {
		assert.False(t, e.Evaluate(&models.ConditionExpr{All: []models.ConditionExpr{isPro, isVIP}}, snap, now))
		assert.True(t, e.Evaluate(&models.ConditionExpr{All: []models.ConditionExpr{isPro}}, snap, now))
	})

	t.Run("any requires one child", func(t *testing.T) {
		assert.True(t, e.Evaluate(&models.ConditionExpr{Any: []models.ConditionExpr{isVIP, isPro}}, snap, now))
		assert.False(t, e.Evaluate(&models.ConditionExpr{Any: []models.ConditionExpr{isVIP}}, snap, now))
	})

	t.Run("not inverts", func(t *testing.T) {
		assert.False(t, e.Evaluate(&models.ConditionExpr{Not: &isPro}, snap, now))
		assert.True(t, e.Evaluate(&models.ConditionExpr{Not: &isVIP}, snap, now))
	})

	t.Run("empty tree is vacuously true", func(t *testing.T) {
		assert.True(t, e.Evaluate(&models.ConditionExpr{}, snap, now))
	})
}

func TestValidate(t *testing.T) {
	e := NewEvaluator()

	t.Run("valid nested tree", func(t *testing.T) {
		cond := &models.ConditionExpr{
			All: []models.ConditionExpr{
				*pred(models.Predicate{Type: models.PredicateLeadScore, Operator: models.CompareGte, Value: 10}),
				{Not: pred(models.Predicate{Type: models.PredicateTagPresent, Value: "unsubscribed"})},
			},
		}
		require.NoError(t, e.Validate(cond))
	})

	t.Run("empty node", func(t *testing.T) {
		assert.Error(t, e.Validate(&models.ConditionExpr{}))
	})

	t.Run("ambiguous node", func(t *testing.T) {
		cond := &models.ConditionExpr{
			Any:  []models.ConditionExpr{*pred(models.Predicate{Type: models.PredicateTagPresent, Value: "a"})},
			Pred: &models.Predicate{Type: models.PredicateTagPresent, Value: "b"},
		}
		assert.Error(t, e.Validate(cond))
	})

	t.Run("unknown predicate type", func(t *testing.T) {
		assert.Error(t, e.Validate(pred(models.Predicate{Type: "zodiac_sign", Value: "leo"})))
	})

	t.Run("bad operator", func(t *testing.T) {
		assert.Error(t, e.Validate(pred(models.Predicate{Type: models.PredicateLeadScore, Operator: "~=", Value: 1})))
	})

	t.Run("bad duration", func(t *testing.T) {
		assert.Error(t, e.Validate(pred(models.Predicate{Type: models.PredicateTimeSinceEvent, Event: "x", Operator: models.CompareGt, Value: "three days"})))
	})

	t.Run("uncompilable expr", func(t *testing.T) {
		assert.Error(t, e.Validate(pred(models.Predicate{Type: models.PredicateExpr, Expr: "1 +"})))
	})
}
