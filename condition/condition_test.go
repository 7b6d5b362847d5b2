package condition_test

import (
	"testing"

	"github.com/pulsekit/pulse/condition"
)

func TestEvaluateOperators(t *testing.T) {
	data := map[string]any{
		"status": "active",
		"amount": 1500.0,
		"client": map[string]any{
			"name": "Acme Corp",
			"tier": "gold",
		},
		"tags": "billing,invoice",
	}

	tests := []struct {
		name string
		cond condition.Condition
		want bool
	}{
		{
			name: "eq string match",
			cond: condition.Condition{Field: "status", Operator: condition.Eq, Value: "active"},
			want: true,
		},
		{
			name: "eq string mismatch",
			cond: condition.Condition{Field: "status", Operator: condition.Eq, Value: "archived"},
			want: false,
		},
		{
			name: "default operator is eq",
			cond: condition.Condition{Field: "status", Value: "active"},
			want: true,
		},
		{
			name: "eq numeric coercion int vs float",
			cond: condition.Condition{Field: "amount", Operator: condition.Eq, Value: 1500},
			want: true,
		},
		{
			name: "ne",
			cond: condition.Condition{Field: "status", Operator: condition.Ne, Value: "archived"},
			want: true,
		},
		{
			name: "gt passes",
			cond: condition.Condition{Field: "amount", Operator: condition.Gt, Value: 1000},
			want: true,
		},
		{
			name: "gt fails on equal",
			cond: condition.Condition{Field: "amount", Operator: condition.Gt, Value: 1500},
			want: false,
		},
		{
			name: "gte passes on equal",
			cond: condition.Condition{Field: "amount", Operator: condition.Gte, Value: 1500},
			want: true,
		},
		{
			name: "lt",
			cond: condition.Condition{Field: "amount", Operator: condition.Lt, Value: 2000},
			want: true,
		},
		{
			name: "lte fails",
			cond: condition.Condition{Field: "amount", Operator: condition.Lte, Value: 1000},
			want: false,
		},
		{
			name: "in membership",
			cond: condition.Condition{Field: "status", Operator: condition.In, Value: []any{"active", "trial"}},
			want: true,
		},
		{
			name: "in non-membership",
			cond: condition.Condition{Field: "status", Operator: condition.In, Value: []any{"archived", "trial"}},
			want: false,
		},
		{
			name: "not_in",
			cond: condition.Condition{Field: "status", Operator: condition.NotIn, Value: []any{"archived"}},
			want: true,
		},
		{
			name: "contains",
			cond: condition.Condition{Field: "tags", Operator: condition.Contains, Value: "invoice"},
			want: true,
		},
		{
			name: "starts_with",
			cond: condition.Condition{Field: "client.name", Operator: condition.StartsWith, Value: "Acme"},
			want: true,
		},
		{
			name: "ends_with",
			cond: condition.Condition{Field: "client.name", Operator: condition.EndsWith, Value: "Corp"},
			want: true,
		},
		{
			name: "contains coerces numbers to strings",
			cond: condition.Condition{Field: "amount", Operator: condition.Contains, Value: "150"},
			want: true,
		},
		{
			name: "nested path lookup",
			cond: condition.Condition{Field: "client.tier", Operator: condition.Eq, Value: "gold"},
			want: true,
		},
		{
			name: "missing path never matches non-null scalar",
			cond: condition.Condition{Field: "client.missing", Operator: condition.Eq, Value: "gold"},
			want: false,
		},
		{
			name: "missing path with ne matches",
			cond: condition.Condition{Field: "client.missing", Operator: condition.Ne, Value: "gold"},
			want: true,
		},
		{
			name: "traversal through scalar fails",
			cond: condition.Condition{Field: "status.deep", Operator: condition.Eq, Value: "x"},
			want: false,
		},
		{
			name: "unknown operator fails closed",
			cond: condition.Condition{Field: "status", Operator: "regex", Value: ".*"},
			want: false,
		},
		{
			name: "gt on mixed types fails closed",
			cond: condition.Condition{Field: "status", Operator: condition.Gt, Value: 5},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Evaluate(data); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateExpression(t *testing.T) {
	data := map[string]any{
		"amount": 500.0,
		"status": "paid",
	}

	tests := []struct {
		name string
		expr any
		want bool
	}{
		{"true expression", `amount > 100 && status == "paid"`, true},
		{"false expression", `amount >= 1000`, false},
		{"undefined variable fails closed", `missing > 1`, false},
		{"non-boolean program fails closed", `amount + 1`, false},
		{"non-string value fails closed", 42, false},
		{"empty expression fails closed", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := condition.Condition{Operator: condition.Expression, Value: tt.expr}
			if got := cond.Evaluate(data); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name string
		spec any
		want condition.Condition
	}{
		{
			name: "scalar becomes eq",
			spec: "high",
			want: condition.Condition{Field: "priority", Operator: condition.Eq, Value: "high"},
		},
		{
			name: "array becomes in",
			spec: []any{"high", "urgent"},
			want: condition.Condition{Field: "priority", Operator: condition.In, Value: []any{"high", "urgent"}},
		},
		{
			name: "operator map is explicit",
			spec: map[string]any{"operator": "gte", "value": 1000},
			want: condition.Condition{Field: "priority", Operator: condition.Gte, Value: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := condition.ParseSpec("priority", tt.spec)
			if got.Field != tt.want.Field || got.Operator != tt.want.Operator {
				t.Errorf("ParseSpec() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 7}},
	}

	if v, ok := condition.Lookup(data, "a.b.c"); !ok || v != 7 {
		t.Errorf("Lookup(a.b.c) = %v, %v; want 7, true", v, ok)
	}
	if _, ok := condition.Lookup(data, "a.x.c"); ok {
		t.Error("Lookup(a.x.c) should report missing")
	}
	if _, ok := condition.Lookup(data, ""); ok {
		t.Error("Lookup(empty) should report missing")
	}
}
