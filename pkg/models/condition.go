package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PredicateType identifies a leaf predicate within a condition expression
type PredicateType string

const (
	PredicateAttributeEquals   PredicateType = "attribute_equals"
	PredicateAttributeContains PredicateType = "attribute_contains"
	PredicateTagPresent        PredicateType = "tag_present"
	PredicateLeadScore         PredicateType = "lead_score"
	PredicateTimeSinceEvent    PredicateType = "time_since_event"
	PredicateExpr              PredicateType = "expr"
)

// Comparison operators for lead_score and time_since_event predicates
const (
	CompareEq  = "eq"
	CompareNeq = "neq"
	CompareGt  = "gt"
	CompareGte = "gte"
	CompareLt  = "lt"
	CompareLte = "lte"
)

// Predicate is a leaf condition evaluated against a contact snapshot.
// Field usage by type:
//   - attribute_equals / attribute_contains: Attribute + Value
//   - tag_present: Value (the tag name)
//   - lead_score: Operator + Value (number)
//   - time_since_event: Event + Operator + Value (Go duration string, e.g. "72h")
//   - expr: Expr (boolean expr-lang expression over the snapshot environment)
type Predicate struct {
	Type      PredicateType `json:"type"`
	Attribute string        `json:"attribute,omitempty"`
	Operator  string        `json:"operator,omitempty"`
	Value     any           `json:"value,omitempty"`
	Event     string        `json:"event,omitempty"`
	Expr      string        `json:"expr,omitempty"`
}

// ConditionExpr is a boolean expression tree over leaf predicates. Exactly one
// of All, Any, Not, or Pred must be set; malformed trees are rejected at
// journey validation time and never reach evaluation.
type ConditionExpr struct {
	All  []ConditionExpr `json:"all,omitempty"`
	Any  []ConditionExpr `json:"any,omitempty"`
	Not  *ConditionExpr  `json:"not,omitempty"`
	Pred *Predicate      `json:"pred,omitempty"`
}

// IsZero reports whether no branch of the tree is set. A zero tree scanned
// from a NULL column means "no guard".
func (c *ConditionExpr) IsZero() bool {
	return c == nil || (len(c.All) == 0 && len(c.Any) == 0 && c.Not == nil && c.Pred == nil)
}

// Value implements driver.Valuer so condition trees persist as JSONB
func (c ConditionExpr) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *ConditionExpr) Scan(src any) error {
	switch data := src.(type) {
	case nil:
		*c = ConditionExpr{}
		return nil
	case []byte:
		return json.Unmarshal(data, c)
	case string:
		return json.Unmarshal([]byte(data), c)
	}
	return fmt.Errorf("cannot scan %T into ConditionExpr", src)
}
