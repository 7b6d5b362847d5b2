// Package condition provides the pure filter-evaluation library used by
// subscription matching and rule firing.
//
// A Condition is a tagged triple {field, operator, value}. The field is a
// dot-separated path into the event data; a missing path never matches a
// non-null expected value. Unknown operators fail closed.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Operator names the comparison applied between the event field and the
// condition value.
type Operator string

// Supported operators.
const (
	Eq         Operator = "eq"
	Ne         Operator = "ne"
	Gt         Operator = "gt"
	Gte        Operator = "gte"
	Lt         Operator = "lt"
	Lte        Operator = "lte"
	In         Operator = "in"
	NotIn      Operator = "not_in"
	Contains   Operator = "contains"
	StartsWith Operator = "starts_with"
	EndsWith   Operator = "ends_with"

	// Expression evaluates the condition value as a boolean expr-lang
	// program over the whole event data environment. The Field is ignored.
	Expression Operator = "expression"
)

// Condition is a single filter clause. An empty Operator means Eq.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value"`
}

// ParseSpec converts a legacy shorthand filter specification into a Condition:
//
//	scalar                          → {field, eq, scalar}
//	array                           → {field, in, array}
//	{"operator": op, "value": v}    → {field, op, v}
//
// Any other map shape falls back to an equality check against the map itself.
func ParseSpec(field string, spec any) Condition {
	switch v := spec.(type) {
	case []any:
		return Condition{Field: field, Operator: In, Value: v}
	case map[string]any:
		if op, ok := v["operator"].(string); ok {
			return Condition{Field: field, Operator: Operator(op), Value: v["value"]}
		}
		return Condition{Field: field, Operator: Eq, Value: v}
	default:
		return Condition{Field: field, Operator: Eq, Value: spec}
	}
}

// Evaluate reports whether the condition holds against the event data.
func (c Condition) Evaluate(data map[string]any) bool {
	op := c.Operator
	if op == "" {
		op = Eq
	}

	if op == Expression {
		return evalExpression(c.Value, data)
	}

	actual, _ := Lookup(data, c.Field)

	switch op {
	case Eq:
		return equal(actual, c.Value)
	case Ne:
		return !equal(actual, c.Value)
	case Gt:
		cmp, ok := compare(actual, c.Value)
		return ok && cmp > 0
	case Gte:
		cmp, ok := compare(actual, c.Value)
		return ok && cmp >= 0
	case Lt:
		cmp, ok := compare(actual, c.Value)
		return ok && cmp < 0
	case Lte:
		cmp, ok := compare(actual, c.Value)
		return ok && cmp <= 0
	case In:
		return member(actual, c.Value)
	case NotIn:
		return !member(actual, c.Value)
	case Contains:
		return strings.Contains(coerceString(actual), coerceString(c.Value))
	case StartsWith:
		return strings.HasPrefix(coerceString(actual), coerceString(c.Value))
	case EndsWith:
		return strings.HasSuffix(coerceString(actual), coerceString(c.Value))
	default:
		// Unknown operator: fail closed.
		return false
	}
}

// Lookup resolves a dot-separated path into nested event data.
// The second return is false when any path segment is absent or a
// non-map value is traversed.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equal compares two values with numeric coercion, so that 5, 5.0 and
// json.Number("5") are all equal to each other.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}

	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders two values. Numbers compare numerically, strings
// lexicographically. Mixed or non-orderable types return ok=false.
func compare(a, b any) (int, bool) {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

// member reports whether actual is an element of the condition value,
// which must be a slice.
func member(actual, value any) bool {
	items, ok := value.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(actual, item) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// programCache holds compiled expression programs keyed by source text.
// Rules are evaluated on every matching event, so recompiling per call
// would dominate the hot path.
var programCache sync.Map

// evalExpression runs a boolean expr-lang program against the event data.
// Compile or runtime errors fail closed.
func evalExpression(value any, data map[string]any) bool {
	src, ok := value.(string)
	if !ok || src == "" {
		return false
	}

	var prog *vm.Program
	if cached, ok := programCache.Load(src); ok {
		prog = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return false
		}
		programCache.Store(src, compiled)
		prog = compiled
	}

	out, err := expr.Run(prog, data)
	if err != nil {
		return false
	}
	result, ok := out.(bool)
	return ok && result
}
