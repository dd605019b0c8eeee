package workflows

import (
	"fmt"
	"strings"
)

// ConditionOperator is a condition step operator.
type ConditionOperator string

// Condition step operators.
const (
	OpEquals    ConditionOperator = "equals"
	OpNotEquals ConditionOperator = "not_equals"
	OpExists    ConditionOperator = "exists"
	OpNotExists ConditionOperator = "not_exists"
	OpContains  ConditionOperator = "contains"
)

// Evaluate applies the condition to enrollment data.
func (c ConditionStep) Evaluate(data map[string]any) bool {
	actual := lookup(data, c.Field)

	switch c.Operator {
	case OpEquals:
		return valuesEqual(c.Value, actual)
	case OpNotEquals:
		return !valuesEqual(c.Value, actual)
	case OpExists:
		return actual != nil
	case OpNotExists:
		return actual == nil
	case OpContains:
		if list, ok := asList(actual); ok {
			return contains(list, c.Value)
		}
		s, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, fmt.Sprint(c.Value))
	}
	return false
}
