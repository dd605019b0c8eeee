package workflows

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Trigger condition operators.
const (
	opNe  = "$ne"
	opGt  = "$gt"
	opGte = "$gte"
	opLt  = "$lt"
	opIn  = "$in"
)

var triggerOperators = map[string]bool{opNe: true, opGt: true, opGte: true, opLt: true, opIn: true}

// EvaluateConditions reports whether every condition holds against data.
// An empty condition set always matches. For each field:
//   - an array expects the actual value to be one of its elements;
//   - an object of $-operators applies each operator ($ne, $gt, $gte, $lt, $in);
//   - anything else is compared for equality.
func EvaluateConditions(conditions, data map[string]any) bool {
	for field, expected := range conditions {
		actual := lookup(data, field)
		if !evaluateCondition(expected, actual) {
			return false
		}
	}
	return true
}

func evaluateCondition(expected, actual any) bool {
	if list, ok := asList(expected); ok {
		return contains(list, actual)
	}
	if ops, ok := operatorObject(expected); ok {
		for op, operand := range ops {
			if !applyOperator(op, operand, actual) {
				return false
			}
		}
		return true
	}
	return valuesEqual(expected, actual)
}

func applyOperator(op string, operand, actual any) bool {
	switch op {
	case opNe:
		return !valuesEqual(operand, actual)
	case opGt, opGte, opLt:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		b, ok := toFloat(operand)
		if !ok {
			return false
		}
		switch op {
		case opGt:
			return a > b
		case opGte:
			return a >= b
		default:
			return a < b
		}
	case opIn:
		list, ok := asList(operand)
		return ok && contains(list, actual)
	}
	return false
}

// ValidateConditions rejects operator objects with unknown operators and
// non-array $in operands.
func ValidateConditions(conditions map[string]any) error {
	for field, expected := range conditions {
		m, ok := expected.(map[string]any)
		if !ok || !hasOperatorKey(m) {
			continue
		}
		for op, operand := range m {
			if !triggerOperators[op] {
				return fmt.Errorf("%w: %s: unknown operator %q", ErrInvalidConditions, field, op)
			}
			if op == opIn {
				if _, ok := asList(operand); !ok {
					return fmt.Errorf("%w: %s: $in expects an array", ErrInvalidConditions, field)
				}
			}
		}
	}
	return nil
}

// operatorObject returns expected as an operator map when all its keys
// start with '$'.
func operatorObject(expected any) (map[string]any, bool) {
	m, ok := expected.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func hasOperatorKey(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// lookup resolves a dotted path such as "lead.source" in data.
func lookup(data map[string]any, path string) any {
	if v, ok := data[path]; ok {
		return v
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares decoded JSON values. Numbers compare by value
// regardless of their Go type.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
